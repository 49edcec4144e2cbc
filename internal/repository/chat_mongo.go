package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campus_chat/internal/domain"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

type mongoConversation struct {
	ID           string         `bson:"_id"`
	PairKey      string         `bson:"pair_key"`
	Participants []string       `bson:"participants"`
	Messages     []mongoMessage `bson:"messages"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
}

type mongoMessage struct {
	ID        string     `bson:"id"`
	Sender    string     `bson:"sender"`
	Recipient string     `bson:"recipient"`
	Text      string     `bson:"text"`
	Read      bool       `bson:"read"`
	CreatedAt time.Time  `bson:"created_at"`
	EditedAt  *time.Time `bson:"edited_at,omitempty"`
}

type mongoChatRepository struct {
	coll *mongo.Collection
	log  logger.Logger
}

func NewMongoChatRepository(coll *mongo.Collection, log logger.Logger) ChatRepository {
	return &mongoChatRepository{coll: coll, log: log}
}

// EnsureMongoIndexes создает уникальный индекс по паре участников.
func EnsureMongoIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure mongo indexes: %w", err)
	}
	return nil
}

func (r *mongoChatRepository) FindByParticipants(ctx context.Context, a, b string) (*domain.Conversation, error) {
	return r.findOne(ctx, bson.M{"pair_key": domain.PairKey(a, b)})
}

func (r *mongoChatRepository) GetByID(ctx context.Context, chatID string) (*domain.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": chatID})
}

func (r *mongoChatRepository) AppendMessage(ctx context.Context, msg domain.Message) (*AppendResult, error) {
	res, err := r.appendOnce(ctx, msg)
	// Две параллельные вставки новой пары: одна из них получит duplicate key
	// и должна повторить попытку уже на существующем документе.
	if mongo.IsDuplicateKeyError(err) {
		res, err = r.appendOnce(ctx, msg)
	}
	if err != nil {
		r.log.Error("Failed to append message", "error", err)
		return nil, err
	}
	return res, nil
}

func (r *mongoChatRepository) appendOnce(ctx context.Context, msg domain.Message) (*AppendResult, error) {
	first, second := domain.CanonicalPair(msg.Sender, msg.Recipient)
	newID := uuid.NewString()

	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":          newID,
			"participants": []string{first, second},
			"created_at":   msg.CreatedAt,
		},
		"$push": bson.M{"messages": toMongoMessage(msg)},
		"$set":  bson.M{"updated_at": msg.CreatedAt},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.M{"_id": 1})

	var doc struct {
		ID string `bson:"_id"`
	}
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"pair_key": domain.PairKey(first, second)}, update, opts).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return &AppendResult{ChatID: doc.ID, Message: msg, Created: doc.ID == newID}, nil
}

func (r *mongoChatRepository) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"m.recipient": userID, "m.read": false}},
		})

	var before mongoConversation
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": chatID},
		bson.M{"$set": bson.M{"messages.$[m].read": true}},
		opts,
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	if err != nil {
		r.log.Error("Failed to mark messages read", "error", err, "chat_id", chatID)
		return 0, err
	}

	var n int64
	for _, m := range before.Messages {
		if m.Recipient == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (r *mongoChatRepository) UpdateMessageText(ctx context.Context, chatID, messageID, senderID, text string, at time.Time) (*domain.Message, error) {
	filter := bson.M{
		"_id":      chatID,
		"messages": bson.M{"$elemMatch": bson.M{"id": messageID, "sender": senderID}},
	}
	update := bson.M{"$set": bson.M{
		"messages.$.text":      text,
		"messages.$.edited_at": at,
		"updated_at":           at,
	}}

	var after mongoConversation
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	if err != nil {
		r.log.Error("Failed to update message", "error", err)
		return nil, err
	}

	for _, m := range after.Messages {
		if m.ID == messageID {
			msg := m.toDomain()
			return &msg, nil
		}
	}
	return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
}

func (r *mongoChatRepository) DeleteMessage(ctx context.Context, chatID, messageID, senderID string, at time.Time) error {
	filter := bson.M{
		"_id":      chatID,
		"messages": bson.M{"$elemMatch": bson.M{"id": messageID, "sender": senderID}},
	}
	update := bson.M{
		"$pull": bson.M{"messages": bson.M{"id": messageID, "sender": senderID}},
		"$set":  bson.M{"updated_at": at},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err)
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	return nil
}

func (r *mongoChatRepository) DeleteConversation(ctx context.Context, chatID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": chatID})
	if err != nil {
		r.log.Error("Failed to delete conversation", "error", err, "chat_id", chatID)
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, chatID)
	}
	return nil
}

func (r *mongoChatRepository) ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]domain.ConversationSummary, 0)
	for cur.Next(ctx) {
		var doc mongoConversation
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		conv := doc.toDomain()
		out = append(out, conv.Summary(userID))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

func (r *mongoChatRepository) findOne(ctx context.Context, filter bson.M) (*domain.Conversation, error) {
	var doc mongoConversation
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: conversation", apperrors.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to get conversation", "error", err)
		return nil, err
	}
	conv := doc.toDomain()
	return &conv, nil
}

func toMongoMessage(m domain.Message) mongoMessage {
	return mongoMessage{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Text:      m.Text,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
}

func (m mongoMessage) toDomain() domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Text:      m.Text,
		Read:      m.Read,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.EditedAt != nil {
		at := m.EditedAt.UTC()
		msg.EditedAt = &at
	}
	return msg
}

func (d mongoConversation) toDomain() domain.Conversation {
	conv := domain.Conversation{
		ID:        d.ID,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
		Messages:  make([]domain.Message, 0, len(d.Messages)),
	}
	if len(d.Participants) == 2 {
		conv.Participants = [2]string{d.Participants[0], d.Participants[1]}
	}
	for _, m := range d.Messages {
		conv.Messages = append(conv.Messages, m.toDomain())
	}
	return conv
}
