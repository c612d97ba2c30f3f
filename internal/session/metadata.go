package session

import (
	"fmt"

	"coderoom/collab/internal/crdt"
	"coderoom/collab/internal/notify"
)

// metaField is one replicated metadata key mirrored into the session.
type metaField struct {
	mapName string
	key     string
	def     string
	kind    notify.Kind
}

var (
	titleField    = metaField{mapName: "meta", key: "title", def: "", kind: notify.TitleChanged}
	languageField = metaField{mapName: "editor", key: "language", def: DefaultLanguage, kind: notify.LanguageChanged}
)

// mirror returns the runtime fields that follow f. Callers hold s.mu.
func (rt *runtime) mirror(f metaField) (value *string, active *bool, sub *crdt.Subscription) {
	if f == languageField {
		return &rt.language, &rt.languageActive, &rt.languageSub
	}
	return &rt.title, &rt.titleActive, &rt.titleSub
}

// activate starts following f: the default is written when the key is
// absent, the current value is read, and later changes are observed.
func (s *Session) activate(rt *runtime, f metaField) {
	if !s.lockCurrent(rt) {
		return
	}
	_, active, _ := rt.mirror(f)
	if *active {
		s.mu.Unlock()
		return
	}
	*active = true
	s.mu.Unlock()

	m := rt.doc.Map(f.mapName)
	if !m.Has(f.key) {
		m.Set(f.key, f.def)
	}
	sub := rt.doc.Observe(f.mapName, func(ev crdt.MapEvent) {
		if ev.Changed(f.key) {
			s.metadataChanged(rt, f)
		}
	})

	if !s.lockCurrent(rt) {
		rt.doc.Unobserve(sub)
		return
	}
	value, _, current := rt.mirror(f)
	*current = sub
	if v, ok := m.Get(f.key); ok {
		*value = v
	}
	s.mu.Unlock()
}

func (s *Session) metadataChanged(rt *runtime, f metaField) {
	if !s.lockCurrent(rt) {
		return
	}
	v, _ := rt.doc.Map(f.mapName).Get(f.key)
	value, _, _ := rt.mirror(f)
	*value = v
	s.mu.Unlock()

	ev := notify.Event{Kind: f.kind, Value: v}
	if f.kind == notify.LanguageChanged {
		ev.Message = fmt.Sprintf("Editor language set to %s.", LanguageName(v))
	}
	s.notify(ev)
}

// RoomTitle returns the room title, or "" until the local replica synced.
func (s *Session) RoomTitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.title
}

// EditorLanguage returns the editor language. It stays "plaintext" until the
// network channel synced.
func (s *Session) EditorLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.language
}

func (s *Session) SetTitle(title string) {
	s.Document().Map(titleField.mapName).Set(titleField.key, title)
}

func (s *Session) SetLanguage(language string) {
	s.Document().Map(languageField.mapName).Set(languageField.key, language)
}
