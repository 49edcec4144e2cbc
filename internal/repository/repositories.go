package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"campus_chat/pkg/logger"
)

type Repositories struct {
	Chat      ChatRepository
	Audit     AuditRepository
	RateLimit RateLimitRepository
}

// Backends - подключения, открытые в main. Заполнен должен быть ровно
// один из DB/Mongo; если оба пустые, используется in-memory хранилище.
// Redis может отсутствовать, тогда RateLimit остается nil.
type Backends struct {
	DB    *pgxpool.Pool
	Mongo *mongo.Collection
	Redis *redis.Client
}

func NewRepositories(b Backends, log logger.Logger) *Repositories {
	repos := &Repositories{}

	switch {
	case b.DB != nil:
		repos.Chat = NewPostgresChatRepository(b.DB, log)
		repos.Audit = NewAuditRepository(b.DB, log)
		log.Info("Chat repository initialized", "driver", "postgres")
	case b.Mongo != nil:
		repos.Chat = NewMongoChatRepository(b.Mongo, log)
		repos.Audit = NewLogAuditRepository(log)
		log.Info("Chat repository initialized", "driver", "mongo")
	default:
		repos.Chat = NewMemoryChatRepository(log)
		repos.Audit = NewLogAuditRepository(log)
		log.Warn("Chat repository is in-memory, data will not survive restart")
	}

	if b.Redis != nil {
		repos.RateLimit = NewRateLimitRepository(b.Redis, log)
		log.Info("RateLimit repository initialized")
	}

	return repos
}
