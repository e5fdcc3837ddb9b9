package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"parley/pkg/logger"
	"parley/pkg/models"
)

var db *pebble.DB

// ErrNotFound is returned when a session, character or message does not exist.
var ErrNotFound = errors.New("not found")

// ErrSchema marks encode/decode failures of stored records, as opposed to
// plain write failures. Callers can distinguish the two with errors.Is.
var ErrSchema = errors.New("schema mismatch")

// Key layout:
//
//	session:<id>:meta                 session record
//	session:<id>:msg:<%012d order>    message, ordered by index
//	character:<id>                    persona record
const orderKeyWidth = 12

func sessionMetaKey(id string) []byte {
	return []byte("session:" + id + ":meta")
}

func messageKey(sessionID string, order int64) []byte {
	return []byte(fmt.Sprintf("session:%s:msg:%0*d", sessionID, orderKeyWidth, order))
}

func messagePrefix(sessionID string) []byte {
	return []byte("session:" + sessionID + ":msg:")
}

func characterKey(id string) []byte {
	return []byte("character:" + id)
}

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// SaveSession persists a session record.
func SaveSession(sess models.Session) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: marshal session %s: %v", ErrSchema, sess.ID, err)
	}
	if err := db.Set(sessionMetaKey(sess.ID), data, pebble.Sync); err != nil {
		logger.Error("save_session_failed", "session", sess.ID, "error", err)
		return err
	}
	return nil
}

// GetSession loads a session record. Returns ErrNotFound when absent.
func GetSession(id string) (models.Session, error) {
	var sess models.Session
	if db == nil {
		return sess, notOpened()
	}
	v, closer, err := db.Get(sessionMetaKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return sess, ErrNotFound
		}
		return sess, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &sess); err != nil {
		return sess, fmt.Errorf("%w: session %s: %v", ErrSchema, id, err)
	}
	return sess, nil
}

// TouchSession updates the session's last-activity timestamp (ns).
func TouchSession(id string, ts int64) error {
	sess, err := GetSession(id)
	if err != nil {
		return err
	}
	sess.LastActiveTS = ts
	return SaveSession(sess)
}

// ListSessionsByOwner returns all sessions belonging to the given user.
func ListSessionsByOwner(owner string) ([]models.Session, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("session:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Session
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var sess models.Session
		if err := json.Unmarshal(iter.Value(), &sess); err != nil {
			continue
		}
		if sess.Owner == owner {
			out = append(out, sess)
		}
	}
	return out, iter.Error()
}

// SaveCharacter persists a persona record. The turn pipeline itself only
// reads characters; this exists for seeding and admin tooling.
func SaveCharacter(ch models.Character) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("%w: marshal character %s: %v", ErrSchema, ch.ID, err)
	}
	if err := db.Set(characterKey(ch.ID), data, pebble.Sync); err != nil {
		logger.Error("save_character_failed", "character", ch.ID, "error", err)
		return err
	}
	return nil
}

// GetCharacter loads a persona record. Returns ErrNotFound when absent.
func GetCharacter(id string) (models.Character, error) {
	var ch models.Character
	if db == nil {
		return ch, notOpened()
	}
	v, closer, err := db.Get(characterKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ch, ErrNotFound
		}
		return ch, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &ch); err != nil {
		return ch, fmt.Errorf("%w: character %s: %v", ErrSchema, id, err)
	}
	return ch, nil
}

// AppendMessage persists a message under its assigned order index. The
// order must have been computed by the caller via MaxOrderIndex; the key
// encodes it so iteration order equals index order.
func AppendMessage(msg models.Message) error {
	if db == nil {
		return notOpened()
	}
	if msg.Order <= 0 {
		return fmt.Errorf("%w: message %s has no order index", ErrSchema, msg.ID)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal message %s: %v", ErrSchema, msg.ID, err)
	}
	if err := db.Set(messageKey(msg.Session, msg.Order), data, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "session", msg.Session, "order", msg.Order, "error", err)
		return err
	}
	logger.Debug("message_appended", "session", msg.Session, "order", msg.Order, "role", string(msg.Role))
	return nil
}

// MaxOrderIndex returns the highest order index currently persisted for the
// session, or 0 when the session has no messages. This is advisory
// sequencing, not a reservation; concurrent turns on one session can race.
func MaxOrderIndex(sessionID string) (int64, error) {
	if db == nil {
		return 0, notOpened()
	}
	prefix := messagePrefix(sessionID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() || !bytes.HasPrefix(iter.Key(), prefix) {
		return 0, iter.Error()
	}
	tail := string(iter.Key()[len(prefix):])
	n, perr := strconv.ParseInt(tail, 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("%w: bad order key %q: %v", ErrSchema, string(iter.Key()), perr)
	}
	return n, iter.Error()
}

// ListMessages returns the session's messages oldest to newest. A positive
// limit keeps only the most recent limit messages (still oldest first).
func ListMessages(sessionID string, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := messagePrefix(sessionID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("%w: message at %q: %v", ErrSchema, string(iter.Key()), err)
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, iter.Error()
}

// LatestMessage returns the most recent message in the session, or
// ErrNotFound when the session is empty.
func LatestMessage(sessionID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	prefix := messagePrefix(sessionID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return m, err
	}
	defer iter.Close()
	if !iter.Last() || !bytes.HasPrefix(iter.Key(), prefix) {
		return m, ErrNotFound
	}
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return m, fmt.Errorf("%w: message at %q: %v", ErrSchema, string(iter.Key()), err)
	}
	return m, nil
}

// RecentAssistantTexts returns up to n assistant reply texts, newest first.
// Used by the reply validator's uniqueness check.
func RecentAssistantTexts(sessionID string, n int) ([]string, error) {
	msgs, err := ListMessages(sessionID, 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for i := len(msgs) - 1; i >= 0 && len(out) < n; i-- {
		if msgs[i].Role == models.RoleAssistant {
			out = append(out, msgs[i].Content)
		}
	}
	return out, nil
}

// UserTurnCount returns how many user messages the session holds. Drives
// the NSFW pacing escalation threshold.
func UserTurnCount(sessionID string) (int, error) {
	msgs, err := ListMessages(sessionID, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.Role == models.RoleUser {
			n++
		}
	}
	return n, nil
}
