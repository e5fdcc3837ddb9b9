// Package turn runs the conversational-turn pipeline: load context, collapse
// duplicates, compose the guarded prompt, generate a validated reply, persist
// both sides in order, and fan the turn out to the mirror session.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parley/pkg/idem"
	"parley/pkg/logger"
	"parley/pkg/mirror"
	"parley/pkg/models"
	"parley/pkg/prompt"
	"parley/pkg/store"
	"parley/pkg/telemetry"
	"parley/pkg/utils"
	"parley/pkg/workers"
)

// ErrEmptyInput rejects blank submissions before any work happens.
var ErrEmptyInput = errors.New("empty message")

// Mirrorer receives post-commit turn events. Satisfied by *mirror.Worker.
type Mirrorer interface {
	Enqueue(ev mirror.Event)
}

// Config carries the pipeline tunables resolved at startup.
type Config struct {
	PacingThreshold int
	History         prompt.HistoryLimits
	Format          prompt.FormatPolicy
}

// Service orchestrates one turn end to end.
type Service struct {
	retrier *Retrier
	guard   *idem.Guard
	pool    *workers.Pool
	mirror  Mirrorer
	cfg     Config
	now     func() time.Time
}

func NewService(retrier *Retrier, guard *idem.Guard, pool *workers.Pool, m Mirrorer, cfg Config) *Service {
	return &Service{
		retrier: retrier,
		guard:   guard,
		pool:    pool,
		mirror:  m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Input is one turn submission.
type Input struct {
	SessionID string
	UserID    string
	Text      string
	// Consent marks the caller as eligible for adult content; effective
	// NSFW is the character flag AND this
	Consent bool
}

// Result is the accepted turn.
type Result struct {
	Reply     string
	NSFW      bool
	Duplicate bool
	Session   models.Session
	Character models.Character
	UserMsg   models.Message
	AsstMsg   models.Message
}

// SendTurn produces one accepted, on-policy reply for the submission and
// persists both sides of the exchange exactly once.
func (s *Service) SendTurn(ctx context.Context, in Input) (*Result, error) {
	if len(in.Text) == 0 || prompt.Normalize(in.Text) == "" {
		return nil, ErrEmptyInput
	}

	sess, ch, err := s.loadContext(in.SessionID, in.UserID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.guard.Acquire(ctx, sess.ID, in.Text)
	if err != nil {
		// a broken dedup cache must not take chat down; proceed as if
		// the window were open
		logger.Warn("idem_cache_unavailable", "session", sess.ID, "error", err)
		claimed = true
	}
	if !claimed {
		if res, ok := s.duplicateReply(sess, ch); ok {
			telemetry.IdemHitsTotal.Inc()
			telemetry.TurnsTotal.WithLabelValues("duplicate").Inc()
			logger.Info("duplicate_turn_collapsed", "session", sess.ID)
			return res, nil
		}
		// key present but no assistant reply yet: not a true duplicate
	}

	res, err := s.runTurn(ctx, sess, ch, in)
	if err != nil {
		// nothing persisted for upstream/capacity failures: free the
		// window so an honest retry is not locked out
		if !isPersistence(err) {
			s.guard.Release(context.WithoutCancel(ctx), sess.ID, in.Text)
		}
		telemetry.TurnsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.TurnsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

// loadContext resolves the session, enforces ownership, and loads the
// persona. A session owned by another user is reported exactly like a
// missing one.
func (s *Service) loadContext(sessionID, userID string) (models.Session, models.Character, error) {
	var ch models.Character
	sess, err := store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return sess, ch, ErrNotFound
		}
		return sess, ch, err
	}
	if sess.Owner != userID {
		return sess, ch, ErrNotFound
	}
	ch, err = store.GetCharacter(sess.Character)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return sess, ch, fmt.Errorf("%w: character %s", ErrNotFound, sess.Character)
		}
		return sess, ch, err
	}
	return sess, ch, nil
}

// duplicateReply serves a collapsed duplicate from the already persisted
// turn, if the assistant reply has landed.
func (s *Service) duplicateReply(sess models.Session, ch models.Character) (*Result, bool) {
	latest, err := store.LatestMessage(sess.ID)
	if err != nil || latest.Role != models.RoleAssistant {
		return nil, false
	}
	return &Result{
		Reply:     latest.Content,
		NSFW:      latest.NSFW,
		Duplicate: true,
		Session:   sess,
		Character: ch,
		AsstMsg:   latest,
	}, true
}

func (s *Service) runTurn(ctx context.Context, sess models.Session, ch models.Character, in Input) (*Result, error) {
	// advisory sequencing: the next two slots are computed before
	// generation; concurrent turns on one session can race (accepted risk)
	maxIdx, err := store.MaxOrderIndex(sess.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "max_order", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}

	history, err := store.ListMessages(sess.ID, s.cfg.History.Messages)
	if err != nil {
		return nil, &PersistenceError{Op: "load_history", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}
	recent, err := store.RecentAssistantTexts(sess.ID, recentWindow)
	if err != nil {
		return nil, &PersistenceError{Op: "load_recent", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}
	userTurns, err := store.UserTurnCount(sess.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "count_turns", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}

	nsfw := ch.NSFW && in.Consent
	plan := prompt.Assemble(prompt.GuardInput{
		NSFW:            nsfw,
		UserTurns:       userTurns,
		PacingThreshold: s.cfg.PacingThreshold,
		Paid:            sess.Paid,
		Signals:         prompt.Extract(in.Text),
		Format:          s.cfg.Format,
	})
	msgs := prompt.Compose(prompt.ComposeInput{
		Character: ch,
		NSFW:      nsfw,
		Plan:      plan,
		History:   history,
		UserText:  in.Text,
		Limits:    s.cfg.History,
	})

	release, err := s.pool.Acquire(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	// once generation starts the turn runs to completion even if the
	// client goes away; aborting mid-turn risks half-written exchanges
	genCtx := context.WithoutCancel(ctx)

	reply, err := s.retrier.Generate(genCtx, msgs, plan, recent)
	if err != nil {
		return nil, err
	}

	ts := s.now().UTC().UnixNano()
	userMsg := models.Message{
		ID:      utils.GenID(),
		Session: sess.ID,
		Role:    models.RoleUser,
		Content: in.Text,
		TS:      ts,
		Order:   maxIdx + 1,
		NSFW:    nsfw,
	}
	asstMsg := models.Message{
		ID:      utils.GenID(),
		Session: sess.ID,
		Role:    models.RoleAssistant,
		Content: reply,
		TS:      ts,
		Order:   maxIdx + 2,
		NSFW:    nsfw,
	}

	// the two inserts are independent best-effort writes: a failed user
	// insert is reported but does not block the assistant insert
	var userErr, asstErr error
	if userErr = store.AppendMessage(userMsg); userErr != nil {
		logger.Error("persist_user_message_failed", "session", sess.ID, "order", userMsg.Order, "error", userErr)
	}
	if asstErr = store.AppendMessage(asstMsg); asstErr != nil {
		logger.Error("persist_assistant_message_failed", "session", sess.ID, "order", asstMsg.Order, "error", asstErr)
	}
	if userErr != nil || asstErr != nil {
		err := errors.Join(userErr, asstErr)
		return nil, &PersistenceError{Op: "append_messages", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}

	if err := store.TouchSession(sess.ID, ts); err != nil {
		return nil, &PersistenceError{Op: "touch_session", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}
	sess.LastActiveTS = ts

	if sess.Mirror != "" && s.mirror != nil {
		s.mirror.Enqueue(mirror.Event{
			MirrorSession: sess.Mirror,
			SourceSession: sess.ID,
			UserMsg:       userMsg,
			AssistantMsg:  asstMsg,
		})
	}

	logger.Info("turn_completed", "session", sess.ID, "user_order", userMsg.Order, "assistant_order", asstMsg.Order, "nsfw", nsfw)
	return &Result{
		Reply:     reply,
		NSFW:      nsfw,
		Session:   sess,
		Character: ch,
		UserMsg:   userMsg,
		AsstMsg:   asstMsg,
	}, nil
}

func isPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
