package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("shopping.store")

// LoadPolicy decides where an operation reads the Document from.
type LoadPolicy string

const (
	// ReloadPerRequest reads the backend before every operation, so edits
	// made to the persisted document out of band are picked up.
	ReloadPerRequest LoadPolicy = "reload"
	// CachedAtStartup reads the backend once and keeps the Document in
	// memory for the life of the store. Out-of-band edits are ignored and
	// overwritten by the next mutation.
	CachedAtStartup LoadPolicy = "cached"
)

// ParseLoadPolicy validates a policy name. The empty string selects
// ReloadPerRequest.
func ParseLoadPolicy(s string) (LoadPolicy, error) {
	switch LoadPolicy(s) {
	case "", ReloadPerRequest:
		return ReloadPerRequest, nil
	case CachedAtStartup:
		return CachedAtStartup, nil
	}
	return "", fmt.Errorf("unknown load policy: %q (supported: reload, cached)", s)
}

// Validator checks an entity before it is persisted.
type Validator interface {
	Validate(collection string, fields map[string]any) error
}

// Options configures a DocumentStore.
type Options struct {
	Policy LoadPolicy

	// IDLength is how many characters of a random UUID make up a new id.
	IDLength int

	// IDOverride lets an "id" in an Insert payload replace the generated id.
	IDOverride bool

	// FieldDefaults adds shareCode to new lists and purchased/createdAt to
	// new items.
	FieldDefaults bool

	// CascadeDelete removes a list's items when the list is deleted.
	CascadeDelete bool

	// Validator, when set, must accept every inserted or updated entity.
	Validator Validator

	// Now and NewID replace the clock and the id source; nil means
	// time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// DefaultOptions returns the behaviour of the most complete server variant:
// 8 character ids, field defaults and cascading list deletes.
func DefaultOptions() Options {
	return Options{
		Policy:        ReloadPerRequest,
		IDLength:      8,
		IDOverride:    true,
		FieldDefaults: true,
		CascadeDelete: true,
	}
}

// DocumentStore runs every operation as one load → mutate → persist cycle
// against a Backend. A single mutex serialises the cycles, so concurrent
// callers never overwrite each other's changes.
type DocumentStore struct {
	mu      sync.Mutex
	backend Backend
	opts    Options
	cached  *Document
}

// NewDocumentStore wraps backend. With CachedAtStartup the Document is read
// here, once.
func NewDocumentStore(backend Backend, opts Options) (*DocumentStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("store: backend is nil")
	}
	policy, err := ParseLoadPolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	if opts.IDLength <= 0 {
		opts.IDLength = 8
	}
	if opts.IDLength > 36 {
		return nil, fmt.Errorf("store: id length %d exceeds 36", opts.IDLength)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &DocumentStore{backend: backend, opts: opts}
	if policy == CachedAtStartup {
		s.cached = s.read()
	}
	log.Infof("document store ready (policy=%s, idLength=%d)", policy, opts.IDLength)
	return s, nil
}

// Policy reports the configured load policy.
func (s *DocumentStore) Policy() LoadPolicy { return s.opts.Policy }

// read loads the Document from the backend. A missing or unreadable
// document is replaced by an empty one.
func (s *DocumentStore) read() *Document {
	doc, err := s.backend.Load()
	if err != nil {
		log.Warningf("could not load document, starting empty: %v", err)
		return NewDocument()
	}
	return doc
}

// current returns the Document an operation works on. Under
// CachedAtStartup it is a copy, so a failed save can be discarded.
func (s *DocumentStore) current() *Document {
	if s.opts.Policy == CachedAtStartup {
		return s.cached.Clone()
	}
	return s.read()
}

// view returns the Document for read-only use.
func (s *DocumentStore) view() *Document {
	if s.opts.Policy == CachedAtStartup {
		return s.cached
	}
	return s.read()
}

func (s *DocumentStore) commit(doc *Document) error {
	if err := s.backend.Save(doc); err != nil {
		log.Errorf("save failed: %v", err)
		return &PersistenceError{Err: err}
	}
	if s.opts.Policy == CachedAtStartup {
		s.cached = doc
	}
	return nil
}

func (s *DocumentStore) validate(c Collection, e *Entity) error {
	if s.opts.Validator == nil {
		return nil
	}
	if err := s.opts.Validator.Validate(string(c), e.Map()); err != nil {
		return &ValidationError{Collection: c, Err: err}
	}
	return nil
}

// Snapshot returns a copy of the whole Document.
func (s *DocumentStore) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().Clone()
}

// List returns the entities of c in stored order. When filter is non-empty
// only entities whose filter field equals it exactly are returned. The
// result is never nil.
func (s *DocumentStore) List(c Collection, filter string) ([]*Entity, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	field := c.FilterField()
	out := []*Entity{}
	for _, e := range s.view().Collection(c) {
		if filter != "" {
			if v, ok := e.StringField(field); !ok || v != filter {
				continue
			}
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// Get returns the first entity of c with the given id.
func (s *DocumentStore) Get(c Collection, id string) (*Entity, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.view()
	i := doc.indexOf(c, id)
	if i < 0 {
		return nil, &NotFoundError{Collection: c, ID: id}
	}
	return doc.Collection(c)[i].Clone(), nil
}

// Insert builds a new entity from a generated id, the collection defaults
// and payload, in that order of increasing precedence, appends it to c and
// persists the Document.
func (s *DocumentStore) Insert(c Collection, payload *Entity) (*Entity, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	e := NewEntity()
	e.Set("id", s.newID())
	if s.opts.FieldDefaults {
		s.applyDefaults(c, e)
	}
	if payload != nil {
		generated := e.ID()
		e.Merge(payload)
		if !s.opts.IDOverride {
			e.Set("id", generated)
		}
	}
	if err := s.validate(c, e); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.current()
	doc.append(c, e)
	if err := s.commit(doc); err != nil {
		return nil, err
	}
	log.Debugf("inserted %s %s", c.EntityName(), e.ID())
	return e.Clone(), nil
}

func (s *DocumentStore) newID() string {
	id := s.opts.NewID()
	if len(id) > s.opts.IDLength {
		id = id[:s.opts.IDLength]
	}
	return id
}

func (s *DocumentStore) applyDefaults(c Collection, e *Entity) {
	switch c {
	case Lists:
		e.Set("shareCode", nil)
	case Items:
		e.Set("purchased", false)
		e.Set("createdAt", s.opts.Now().UnixMilli())
	}
}

// Update merges payload over the first entity of c with the given id and
// persists the Document. Fields absent from payload are kept. PUT and PATCH
// both use this.
func (s *DocumentStore) Update(c Collection, id string, payload *Entity) (*Entity, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.current()
	i := doc.indexOf(c, id)
	if i < 0 {
		return nil, &NotFoundError{Collection: c, ID: id}
	}
	merged := doc.Collection(c)[i].Clone()
	merged.Merge(payload)
	if err := s.validate(c, merged); err != nil {
		return nil, err
	}
	doc.Collection(c)[i] = merged
	if err := s.commit(doc); err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

// Delete removes the first entity of c with the given id. Deleting a list
// with CascadeDelete enabled also removes every item whose listId is the
// list's id; both removals are persisted by the same save. The number of
// cascaded items is returned.
func (s *DocumentStore) Delete(c Collection, id string) (int, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.current()
	i := doc.indexOf(c, id)
	if i < 0 {
		return 0, &NotFoundError{Collection: c, ID: id}
	}
	removed := doc.removeAt(c, i)

	cascaded := 0
	if c == Lists && s.opts.CascadeDelete {
		cascaded = doc.removeWhere(Items, Items.FilterField(), removed.ID())
	}
	if err := s.commit(doc); err != nil {
		return 0, err
	}
	if cascaded > 0 {
		log.Infof("deleted list %s and %d items", id, cascaded)
	}
	return cascaded, nil
}
