package state

import (
	"fmt"
	"sort"
)

func (s *Store) FilterMode() FilterMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.PriorityContacts.Mode
}

// SetFilterMode switches the active list. Moving directly between whitelist and
// blacklist returns an advisory for the operator; both lists are kept.
func (s *Store) SetFilterMode(mode FilterMode) (string, error) {
	if !mode.valid() {
		return "", fmt.Errorf("%w: filter mode %q", ErrInvalidArgument, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.data.PriorityContacts.Mode
	s.data.PriorityContacts.Mode = mode
	s.persistLocked("set_filter_mode")

	if old != mode && old != ModeDisabled && mode != ModeDisabled {
		return fmt.Sprintf("Switched from %s to %s mode. The other list is preserved but inactive.", old, mode), nil
	}
	return "", nil
}

func (s *Store) AddPriorityContact(id int64, name string) bool {
	return s.addContact(whitelist, id, name, "add_priority")
}

func (s *Store) RemovePriorityContact(id int64) bool {
	return s.removeContact(whitelist, id, "remove_priority")
}

func (s *Store) AddMutedContact(id int64, name string) bool {
	return s.addContact(blacklist, id, name, "add_muted")
}

func (s *Store) RemoveMutedContact(id int64) bool {
	return s.removeContact(blacklist, id, "remove_muted")
}

func (s *Store) PriorityContacts() []ContactEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listContacts(s.data.PriorityContacts.Whitelist)
}

func (s *Store) MutedContacts() []ContactEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listContacts(s.data.PriorityContacts.Blacklist)
}

// ShouldProcess applies the contact filter to a message's sender and chat.
func (s *Store) ShouldProcess(senderID, chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc := s.data.PriorityContacts
	switch pc.Mode {
	case ModeWhitelist:
		_, bySender := pc.Whitelist[contactKey(senderID)]
		_, byChat := pc.Whitelist[contactKey(chatID)]
		return bySender || byChat
	case ModeBlacklist:
		_, bySender := pc.Blacklist[contactKey(senderID)]
		_, byChat := pc.Blacklist[contactKey(chatID)]
		return !bySender && !byChat
	default:
		return true
	}
}

type listKind int

const (
	whitelist listKind = iota
	blacklist
)

func (s *Store) listLocked(kind listKind) map[string]string {
	if kind == blacklist {
		return s.data.PriorityContacts.Blacklist
	}
	return s.data.PriorityContacts.Whitelist
}

func (s *Store) addContact(kind listKind, id int64, name, op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.listLocked(kind)
	k := contactKey(id)
	if _, ok := m[k]; ok {
		return false
	}
	m[k] = name
	s.persistLocked(op)
	return true
}

func (s *Store) removeContact(kind listKind, id int64, op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.listLocked(kind)
	k := contactKey(id)
	if _, ok := m[k]; !ok {
		return false
	}
	delete(m, k)
	s.persistLocked(op)
	return true
}

func listContacts(m map[string]string) []ContactEntry {
	out := make([]ContactEntry, 0, len(m))
	for k, name := range m {
		id, ok := parseContactKey(k)
		if !ok {
			continue
		}
		out = append(out, ContactEntry{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
