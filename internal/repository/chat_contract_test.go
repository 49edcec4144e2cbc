package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"campus_chat/internal/domain"
	apperrors "campus_chat/pkg/errors"
)

type chatFixture struct {
	repo ChatRepository
	ns   string
	base time.Time
	tick int
}

func (f *chatFixture) user(name string) string {
	return f.ns + "-" + name
}

func (f *chatFixture) message(from, to, text string) domain.Message {
	f.tick++
	at := f.base.Add(time.Duration(f.tick) * time.Second)
	return domain.Message{
		ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		Sender:    from,
		Recipient: to,
		Text:      text,
		CreatedAt: at,
	}
}

func (f *chatFixture) now() time.Time {
	f.tick++
	return f.base.Add(time.Duration(f.tick) * time.Second)
}

func (f *chatFixture) append(t *testing.T, from, to, text string) *AppendResult {
	t.Helper()
	res, err := f.repo.AppendMessage(context.Background(), f.message(from, to, text))
	if err != nil {
		t.Fatalf("AppendMessage(%s->%s): %v", from, to, err)
	}
	return res
}

// runChatRepositoryContract проверяет поведение, общее для всех драйверов.
func runChatRepositoryContract(t *testing.T, newRepo func(t *testing.T) ChatRepository) {
	newFixture := func(t *testing.T) *chatFixture {
		return &chatFixture{
			repo: newRepo(t),
			ns:   uuid.NewString()[:8],
			base: time.Now().UTC().Truncate(time.Millisecond),
		}
	}

	t.Run("UnorderedPairResolvesToOneConversation", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		alice, bob := f.user("alice"), f.user("bob")

		first := f.append(t, alice, bob, "hi bob")
		second := f.append(t, bob, alice, "hi alice")

		if !first.Created || second.Created {
			t.Fatalf("created flags = %v/%v", first.Created, second.Created)
		}
		if first.ChatID != second.ChatID {
			t.Fatalf("pair split into %s and %s", first.ChatID, second.ChatID)
		}

		conv, err := f.repo.FindByParticipants(ctx, bob, alice)
		if err != nil {
			t.Fatalf("FindByParticipants: %v", err)
		}
		if conv.ID != first.ChatID {
			t.Fatalf("found %s, want %s", conv.ID, first.ChatID)
		}
		if len(conv.Messages) != 2 || conv.Messages[0].Text != "hi bob" || conv.Messages[1].Text != "hi alice" {
			t.Fatalf("messages out of order: %+v", conv.Messages)
		}
		if conv.Messages[0].Read {
			t.Fatal("new message stored as read")
		}
		if !conv.HasParticipant(alice) || !conv.HasParticipant(bob) {
			t.Fatalf("participants = %v", conv.Participants)
		}
	})

	t.Run("IDsWithSeparatorDoNotCollide", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		az, b := f.user("a")+":z", "b"
		a, zb := f.user("a"), "z:b"

		first := f.append(t, az, b, "for b")
		second := f.append(t, a, zb, "for z:b")
		if !second.Created || first.ChatID == second.ChatID {
			t.Fatalf("distinct pairs share conversation %s", first.ChatID)
		}

		conv, err := f.repo.FindByParticipants(ctx, a, zb)
		if err != nil {
			t.Fatalf("FindByParticipants: %v", err)
		}
		if conv.ID != second.ChatID || len(conv.Messages) != 1 || conv.Messages[0].Text != "for z:b" {
			t.Fatalf("conversation = %s %+v", conv.ID, conv.Messages)
		}
		if conv.HasParticipant(az) || conv.HasParticipant(b) {
			t.Fatalf("participants = %v", conv.Participants)
		}
	})

	t.Run("FindUnknownPair", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.repo.FindByParticipants(context.Background(), f.user("x"), f.user("y"))
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := f.repo.GetByID(context.Background(), uuid.NewString()); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from GetByID, got %v", err)
		}
	})

	t.Run("MarkReadOnlyTouchesRecipient", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		alice, bob := f.user("alice"), f.user("bob")

		res := f.append(t, alice, bob, "one")
		f.append(t, alice, bob, "two")
		f.append(t, bob, alice, "three")

		n, err := f.repo.MarkRead(ctx, res.ChatID, bob)
		if err != nil {
			t.Fatalf("MarkRead: %v", err)
		}
		if n != 2 {
			t.Fatalf("modified = %d, want 2", n)
		}
		if n, _ := f.repo.MarkRead(ctx, res.ChatID, bob); n != 0 {
			t.Fatalf("second MarkRead modified %d", n)
		}

		conv, err := f.repo.GetByID(ctx, res.ChatID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		for _, m := range conv.Messages {
			want := m.Recipient == bob
			if m.Read != want {
				t.Fatalf("message %q read=%v, want %v", m.Text, m.Read, want)
			}
		}

		if _, err := f.repo.MarkRead(ctx, uuid.NewString(), bob); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown chat, got %v", err)
		}
	})

	t.Run("UpdateMessageTextRequiresSender", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		alice, bob := f.user("alice"), f.user("bob")

		res := f.append(t, alice, bob, "original")

		_, err := f.repo.UpdateMessageText(ctx, res.ChatID, res.Message.ID, bob, "hijacked", f.now())
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for non-sender, got %v", err)
		}

		at := f.now()
		updated, err := f.repo.UpdateMessageText(ctx, res.ChatID, res.Message.ID, alice, "fixed", at)
		if err != nil {
			t.Fatalf("UpdateMessageText: %v", err)
		}
		if updated.Text != "fixed" || updated.EditedAt == nil || !updated.EditedAt.Equal(at) {
			t.Fatalf("updated = %+v", updated)
		}

		conv, _ := f.repo.GetByID(ctx, res.ChatID)
		if conv.Messages[0].Text != "fixed" {
			t.Fatalf("stored text = %q", conv.Messages[0].Text)
		}
		if !conv.UpdatedAt.Equal(at) {
			t.Fatalf("updatedAt = %v, want %v", conv.UpdatedAt, at)
		}
	})

	t.Run("DeleteMessageRemovesFromSequence", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		alice, bob := f.user("alice"), f.user("bob")

		a := f.append(t, alice, bob, "a")
		b := f.append(t, alice, bob, "b")
		f.append(t, bob, alice, "c")

		if err := f.repo.DeleteMessage(ctx, a.ChatID, b.Message.ID, bob, f.now()); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for non-sender delete, got %v", err)
		}
		if err := f.repo.DeleteMessage(ctx, a.ChatID, b.Message.ID, alice, f.now()); err != nil {
			t.Fatalf("DeleteMessage: %v", err)
		}

		conv, _ := f.repo.GetByID(ctx, a.ChatID)
		if len(conv.Messages) != 2 || conv.Messages[0].Text != "a" || conv.Messages[1].Text != "c" {
			t.Fatalf("messages after delete = %+v", conv.Messages)
		}
		if err := f.repo.DeleteMessage(ctx, a.ChatID, b.Message.ID, alice, f.now()); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for repeated delete, got %v", err)
		}
	})

	t.Run("DeleteConversationThenRecreate", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		alice, bob := f.user("alice"), f.user("bob")

		old := f.append(t, alice, bob, "before")
		if err := f.repo.DeleteConversation(ctx, old.ChatID); err != nil {
			t.Fatalf("DeleteConversation: %v", err)
		}
		if err := f.repo.DeleteConversation(ctx, old.ChatID); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}

		fresh := f.append(t, alice, bob, "after")
		if !fresh.Created || fresh.ChatID == old.ChatID {
			t.Fatalf("expected new conversation, got %+v", fresh)
		}
		conv, _ := f.repo.GetByID(ctx, fresh.ChatID)
		if len(conv.Messages) != 1 || conv.Messages[0].Text != "after" {
			t.Fatalf("old history leaked: %+v", conv.Messages)
		}
	})

	t.Run("ListForUserOrdersByActivity", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		alice, bob, carol := f.user("alice"), f.user("bob"), f.user("carol")

		withBob := f.append(t, bob, alice, "from bob")
		withCarol := f.append(t, carol, alice, "from carol")
		f.append(t, carol, alice, "again carol")
		f.append(t, bob, carol, "not alice's")

		list, err := f.repo.ListForUser(ctx, alice)
		if err != nil {
			t.Fatalf("ListForUser: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("got %d conversations, want 2", len(list))
		}
		if list[0].ChatID != withCarol.ChatID || list[1].ChatID != withBob.ChatID {
			t.Fatalf("order = %s, %s", list[0].ChatID, list[1].ChatID)
		}
		if list[0].Participant != carol || list[0].UnreadCount != 2 {
			t.Fatalf("carol summary = %+v", list[0])
		}
		if list[0].LastMessage == nil || list[0].LastMessage.Text != "again carol" {
			t.Fatalf("last message = %+v", list[0].LastMessage)
		}

		// Ответ в старую переписку поднимает ее наверх.
		f.append(t, alice, bob, "reply")
		list, _ = f.repo.ListForUser(ctx, alice)
		if list[0].ChatID != withBob.ChatID {
			t.Fatalf("reply did not bump conversation: %+v", list)
		}
		if list[0].UnreadCount != 1 {
			t.Fatalf("alice's own reply counted as unread: %+v", list[0])
		}

		empty, err := f.repo.ListForUser(ctx, f.user("nobody"))
		if err != nil || len(empty) != 0 {
			t.Fatalf("expected empty list, got %v, %v", empty, err)
		}
	})

	t.Run("ConcurrentFirstMessagesShareConversation", func(t *testing.T) {
		f := newFixture(t)
		alice, bob := f.user("alice"), f.user("bob")

		msgs := make([]domain.Message, 8)
		for i := range msgs {
			from, to := alice, bob
			if i%2 == 1 {
				from, to = bob, alice
			}
			msgs[i] = f.message(from, to, fmt.Sprintf("m%d", i))
		}

		ids := make(chan string, len(msgs))
		errs := make(chan error, len(msgs))
		for _, m := range msgs {
			go func(m domain.Message) {
				res, err := f.repo.AppendMessage(context.Background(), m)
				if err != nil {
					errs <- err
					return
				}
				ids <- res.ChatID
			}(m)
		}

		var first string
		for range msgs {
			select {
			case err := <-errs:
				t.Fatalf("AppendMessage: %v", err)
			case id := <-ids:
				if first == "" {
					first = id
				} else if id != first {
					t.Fatalf("concurrent appends created %s and %s", first, id)
				}
			}
		}

		conv, err := f.repo.GetByID(context.Background(), first)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if len(conv.Messages) != len(msgs) {
			t.Fatalf("stored %d messages, want %d", len(conv.Messages), len(msgs))
		}
	})
}
