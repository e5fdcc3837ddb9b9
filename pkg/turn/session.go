package turn

import (
	"errors"
	"fmt"
	"strings"

	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/utils"
)

// MirrorLinkPrefix marks the system message that records a session pairing.
const MirrorLinkPrefix = "MIRROR_LINK:"

// ErrBadMirror rejects invalid pairing requests.
var ErrBadMirror = errors.New("invalid mirror pairing")

// CreateSession creates a conversation between owner and character. When
// mirrorOf names an existing session (same character, different owner) the
// two sessions are paired bidirectionally and each records a MIRROR_LINK
// system message. The pairing is fixed at creation and read-only afterwards.
func (s *Service) CreateSession(owner, characterID, title, mirrorOf string) (models.Session, error) {
	var sess models.Session
	ch, err := store.GetCharacter(characterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return sess, fmt.Errorf("%w: character %s", ErrNotFound, characterID)
		}
		return sess, err
	}

	var other models.Session
	if mirrorOf != "" {
		other, err = store.GetSession(mirrorOf)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return sess, fmt.Errorf("%w: session %s", ErrBadMirror, mirrorOf)
			}
			return sess, err
		}
		if other.Character != ch.ID {
			return sess, fmt.Errorf("%w: different characters", ErrBadMirror)
		}
		if other.Owner == owner {
			return sess, fmt.Errorf("%w: same owner", ErrBadMirror)
		}
		if other.Mirror != "" {
			return sess, fmt.Errorf("%w: session %s already paired", ErrBadMirror, mirrorOf)
		}
	}

	ts := s.now().UTC().UnixNano()
	if strings.TrimSpace(title) == "" {
		title = "Chat with " + ch.Name
	}
	sess = models.Session{
		ID:           utils.GenSessionID(),
		Owner:        owner,
		Character:    ch.ID,
		Title:        title,
		CreatedTS:    ts,
		LastActiveTS: ts,
	}
	if mirrorOf != "" {
		sess.Mirror = other.ID
	}
	if err := store.SaveSession(sess); err != nil {
		return sess, &PersistenceError{Op: "save_session", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}

	if mirrorOf != "" {
		if err := s.linkMirror(sess, other, ts); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// linkMirror records the pairing on both sides: the back-reference on the
// other session plus a MIRROR_LINK system message in each.
func (s *Service) linkMirror(sess, other models.Session, ts int64) error {
	other.Mirror = sess.ID
	if err := store.SaveSession(other); err != nil {
		return &PersistenceError{Op: "save_mirror_session", Schema: errors.Is(err, store.ErrSchema), Err: err}
	}

	for _, pair := range []struct {
		session models.Session
		target  string
	}{
		{sess, other.ID},
		{other, sess.ID},
	} {
		maxIdx, err := store.MaxOrderIndex(pair.session.ID)
		if err != nil {
			return &PersistenceError{Op: "mirror_max_order", Schema: errors.Is(err, store.ErrSchema), Err: err}
		}
		marker := models.Message{
			ID:      utils.GenID(),
			Session: pair.session.ID,
			Role:    models.RoleSystem,
			Content: MirrorLinkPrefix + pair.target,
			TS:      ts,
			Order:   maxIdx + 1,
		}
		if err := store.AppendMessage(marker); err != nil {
			return &PersistenceError{Op: "mirror_link_message", Schema: errors.Is(err, store.ErrSchema), Err: err}
		}
	}
	return nil
}
