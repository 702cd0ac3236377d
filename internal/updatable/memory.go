package updatable

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/metadata"
	"github.com/zmcp/odata-codec/internal/odataerr"
	"github.com/zmcp/odata-codec/internal/writer"
)

// Media is the stored content of a media resource
type Media struct {
	ContentType string
	Data        []byte
}

// Record is one stored entity
type Record struct {
	Set  string
	Type string

	values  map[string]any
	links   map[string][]*Record
	media   *Media
	id      string
	version int64
}

// ID returns the index key, "Set(key)", empty until the record is saved
func (r *Record) ID() string { return r.id }

// Version counts saves of the record
func (r *Record) Version() int64 { return r.version }

// Value returns one property value
func (r *Record) Value(name string) any { return r.values[name] }

// Media returns the stored media content, nil when none was uploaded
func (r *Record) Media() *Media { return r.media }

// Values returns a copy of the property values
func (r *Record) Values() map[string]any {
	values := make(map[string]any, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return values
}

// LinkIDs returns the IDs of bound records per navigation property
func (r *Record) LinkIDs() map[string][]string {
	links := make(map[string][]string, len(r.links))
	for nav, targets := range r.links {
		ids := make([]string, 0, len(targets))
		for _, target := range targets {
			ids = append(ids, target.id)
		}
		links[nav] = ids
	}
	return links
}

// snapshot is the saved state of a record before its first uncommitted change
type snapshot struct {
	values map[string]any
	links  map[string][]*Record
	media  *Media
}

type complexValue struct {
	typeName string
	values   map[string]any
}

// MemoryStore keeps entities in memory. New and modified records are
// tracked and only indexed by key on SaveChanges.
type MemoryStore struct {
	mu       sync.Mutex
	provider *metadata.Provider
	logger   *zap.Logger

	records map[string]*Record
	order   []*Record
	pending []*Record
	dirty   map[*Record]struct{}
	saved   map[*Record]*snapshot
}

// Option configures a MemoryStore
type Option func(*MemoryStore)

// WithLogger sets the logger used for change tracking output
func WithLogger(logger *zap.Logger) Option {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemoryStore creates an empty store for the entity sets of provider
func NewMemoryStore(provider *metadata.Provider, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		provider: provider,
		logger:   zap.NewNop(),
		records:  make(map[string]*Record),
		dirty:    make(map[*Record]struct{}),
		saved:    make(map[*Record]*snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the metadata the store validates against
func (s *MemoryStore) Provider() *metadata.Provider {
	return s.provider
}

func (s *MemoryStore) CreateResource(setName, typeName string) (any, error) {
	t, ok := s.provider.ResolveType(typeName)
	if !ok {
		return nil, odataerr.BadRequest(odataerr.CodeTypeNotFound, typeName, "type not found")
	}
	if setName == "" {
		if t.IsEntity() {
			return nil, odataerr.Provider(odataerr.CodeInconsistentType, typeName, "entity types need an entity set")
		}
		return &complexValue{typeName: t.FullName(), values: make(map[string]any)}, nil
	}

	set, ok := s.provider.EntitySet(setName)
	if !ok {
		return nil, odataerr.New(odataerr.KindNotFound, odataerr.CodeResourceNotFound, setName, "entity set not found")
	}
	base, ok := s.provider.EntitySetType(set)
	if !ok || !t.IsEntity() || !s.provider.IsAssignableFrom(base, t) {
		return nil, odataerr.BadRequest(odataerr.CodeTypeMismatch, typeName, "type cannot be stored in %s", setName)
	}
	if t.Abstract {
		return nil, odataerr.BadRequest(odataerr.CodeTypeMismatch, typeName, "abstract types cannot be created")
	}

	rec := &Record{
		Set:    setName,
		Type:   t.FullName(),
		values: make(map[string]any),
		links:  make(map[string][]*Record),
	}

	s.mu.Lock()
	s.pending = append(s.pending, rec)
	s.dirty[rec] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("created resource", zap.String("set", setName), zap.String("type", rec.Type))
	return rec, nil
}

func (s *MemoryStore) GetResource(setName string, key keys.Key, typeName string) (any, error) {
	expr, err := key.Expression()
	if err != nil {
		return nil, err
	}
	id := setName + "(" + expr + ")"

	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return nil, odataerr.New(odataerr.KindNotFound, odataerr.CodeResourceNotFound, id, "resource not found")
	}

	if typeName != "" {
		expected, ok := s.provider.ResolveType(typeName)
		if !ok {
			return nil, odataerr.BadRequest(odataerr.CodeTypeNotFound, typeName, "type not found")
		}
		actual, ok := s.provider.ResolveType(rec.Type)
		if !ok || !s.provider.IsAssignableFrom(expected, actual) {
			return nil, odataerr.BadRequest(odataerr.CodeTypeMismatch, id, "stored type %s is not a %s", rec.Type, typeName)
		}
	}
	return rec, nil
}

func (s *MemoryStore) ResetResource(resource any) (any, error) {
	rec, err := s.record(resource)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]any)
	if t, ok := s.provider.ResolveType(rec.Type); ok {
		for _, prop := range s.provider.KeyProperties(t) {
			keep[prop.Name] = rec.values[prop.Name]
		}
	}

	s.mu.Lock()
	s.touch(rec)
	rec.values = keep
	rec.links = make(map[string][]*Record)
	s.mu.Unlock()
	return rec, nil
}

func (s *MemoryStore) GetValue(resource any, property string) (any, error) {
	switch r := resource.(type) {
	case *Record:
		return r.values[property], nil
	case *complexValue:
		return r.values[property], nil
	}
	return nil, unknownHandle(resource)
}

func (s *MemoryStore) SetValue(resource any, property string, value any) error {
	switch r := resource.(type) {
	case *Record:
		s.mu.Lock()
		s.touch(r)
		r.values[property] = value
		s.mu.Unlock()
		return nil
	case *complexValue:
		r.values[property] = value
		return nil
	}
	return unknownHandle(resource)
}

func (s *MemoryStore) SetReference(resource any, navigation string, target any) error {
	rec, err := s.record(resource)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var to *Record
	if target != nil {
		if to, err = s.record(target); err != nil {
			return err
		}
	}
	s.touch(rec)
	if to == nil {
		delete(rec.links, navigation)
	} else {
		rec.links[navigation] = []*Record{to}
	}
	return nil
}

func (s *MemoryStore) AddReferenceToCollection(resource any, navigation string, target any) error {
	rec, err := s.record(resource)
	if err != nil {
		return err
	}
	to, err := s.record(target)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range rec.links[navigation] {
		if existing == to {
			return nil
		}
	}
	s.touch(rec)
	rec.links[navigation] = append(rec.links[navigation], to)
	return nil
}

func (s *MemoryStore) ResolveResource(resource any) (any, error) {
	switch r := resource.(type) {
	case *Record:
		return r, nil
	case *complexValue:
		values := make(map[string]any, len(r.values))
		for k, v := range r.values {
			values[k] = v
		}
		return values, nil
	}
	return nil, unknownHandle(resource)
}

// ETag returns a weak ETag derived from the record version, empty for
// records that were never saved
func (s *MemoryStore) ETag(resource any) (string, error) {
	rec, err := s.record(resource)
	if err != nil {
		return "", err
	}
	if rec.version == 0 {
		return "", nil
	}
	return fmt.Sprintf(`W/"%d"`, rec.version), nil
}

// SetStream stores media resource content
func (s *MemoryStore) SetStream(resource any, contentType string, body io.Reader) error {
	rec, err := s.record(resource)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read media content: %w", err)
	}
	s.mu.Lock()
	s.touch(rec)
	rec.media = &Media{ContentType: contentType, Data: data}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SaveChanges(ctx context.Context) error {
	_, err := s.Commit()
	return err
}

// Commit indexes new records by key and bumps the version of every changed
// record. It returns the changed records in a stable order. Nothing is
// applied when a key is null or collides with another record.
func (s *MemoryStore) Commit() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []*Record
	changed = append(changed, s.pending...)
	for _, rec := range s.order {
		if _, ok := s.dirty[rec]; ok {
			changed = append(changed, rec)
		}
	}

	ids := make(map[*Record]string, len(changed))
	claimed := make(map[string]*Record, len(changed))
	for _, rec := range changed {
		id, err := s.identify(rec)
		if err != nil {
			return nil, err
		}
		if _, ok := claimed[id]; ok {
			return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, id, "duplicate key")
		}
		ids[rec] = id
		claimed[id] = rec
	}
	// A saved record that is not changing keeps its key
	for id, rec := range claimed {
		if existing, ok := s.records[id]; ok && existing != rec {
			if _, changing := ids[existing]; !changing {
				return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, id, "duplicate key")
			}
		}
	}

	for _, rec := range changed {
		if rec.id != "" && rec.id != ids[rec] && s.records[rec.id] == rec {
			delete(s.records, rec.id)
		}
	}
	for _, rec := range changed {
		rec.id = ids[rec]
		rec.version++
		s.records[rec.id] = rec
	}
	s.order = append(s.order, s.pending...)
	s.pending = nil
	s.dirty = make(map[*Record]struct{})
	s.saved = make(map[*Record]*snapshot)

	s.logger.Debug("saved changes", zap.Int("records", len(changed)))
	return changed, nil
}

// ClearChanges forgets records created since the last commit and puts
// modified records back to their saved state
func (s *MemoryStore) ClearChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for rec, snap := range s.saved {
		rec.values = snap.values
		rec.links = snap.links
		rec.media = snap.media
	}
	discarded := len(s.pending)
	s.pending = nil
	s.dirty = make(map[*Record]struct{})
	s.saved = make(map[*Record]*snapshot)

	s.logger.Debug("cleared changes", zap.Int("discarded", discarded))
}

// touch marks rec as changed, keeping a copy of its saved state the first
// time. Callers hold s.mu.
func (s *MemoryStore) touch(rec *Record) {
	s.dirty[rec] = struct{}{}
	if rec.id == "" {
		return
	}
	if _, ok := s.saved[rec]; ok {
		return
	}
	snap := &snapshot{
		values: make(map[string]any, len(rec.values)),
		links:  make(map[string][]*Record, len(rec.links)),
		media:  rec.media,
	}
	for k, v := range rec.values {
		snap.values[k] = v
	}
	for nav, targets := range rec.links {
		snap.links[nav] = append([]*Record(nil), targets...)
	}
	s.saved[rec] = snap
}

// identify computes the index key of rec from its key property values
func (s *MemoryStore) identify(rec *Record) (string, error) {
	key, err := s.key(rec)
	if err != nil {
		return "", err
	}
	expr, err := key.Expression()
	if err != nil {
		return "", err
	}
	return rec.Set + "(" + expr + ")", nil
}

func (s *MemoryStore) key(rec *Record) (keys.Key, error) {
	t, ok := s.provider.ResolveType(rec.Type)
	if !ok {
		return nil, odataerr.Provider(odataerr.CodeTypeNotFound, rec.Type, "stored type is not in the metadata")
	}
	var key keys.Key
	for _, prop := range s.provider.KeyProperties(t) {
		value := rec.values[prop.Name]
		if value == nil {
			return nil, odataerr.BadRequest(odataerr.CodeNullKey, prop.Name, "null key values are not supported")
		}
		key = append(key, keys.Property{Name: prop.Name, Value: value})
	}
	return key, nil
}

// Key returns the typed key values of a record
func (s *MemoryStore) Key(rec *Record) (keys.Key, error) {
	return s.key(rec)
}

// Lookup finds a saved record by ID
func (s *MemoryStore) Lookup(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Records returns every saved record in insertion order
func (s *MemoryStore) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.order...)
}

// Entities returns the saved records of one entity set in insertion order
func (s *MemoryStore) Entities(setName string) []*Record {
	var records []*Record
	for _, rec := range s.Records() {
		if rec.Set == setName {
			records = append(records, rec)
		}
	}
	return records
}

// Page enumerates up to pageSize records of setName following the record
// whose key renders as skipToken. A pageSize of zero returns everything.
func (s *MemoryStore) Page(setName, skipToken string, pageSize int) (*writer.SliceEnumerator, error) {
	records := s.Entities(setName)
	start := 0
	if skipToken != "" {
		start = -1
		for i, rec := range records {
			key, err := s.key(rec)
			if err != nil {
				return nil, err
			}
			token, err := keys.SkipToken(key)
			if err != nil {
				return nil, err
			}
			if token == skipToken {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, skipToken, "skip token does not match any entity")
		}
	}

	end, more := len(records), false
	if pageSize > 0 && start+pageSize < len(records) {
		end, more = start+pageSize, true
	}
	items := make([]any, 0, end-start)
	for _, rec := range records[start:end] {
		items = append(items, rec)
	}
	return writer.NewSliceEnumerator(items, more).WithTotal(int64(len(records))), nil
}

// Restore indexes a previously saved record without tracking it as a change
func (s *MemoryStore) Restore(setName, typeName string, values map[string]any, version int64) (*Record, error) {
	rec := &Record{
		Set:     setName,
		Type:    typeName,
		values:  values,
		links:   make(map[string][]*Record),
		version: version,
	}
	id, err := s.identify(rec)
	if err != nil {
		return nil, err
	}
	rec.id = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return nil, odataerr.BadRequest(odataerr.CodeInvalidValue, id, "duplicate key")
	}
	s.records[id] = rec
	s.order = append(s.order, rec)
	return rec, nil
}

// RestoreLink binds a restored record to another saved record by ID
func (s *MemoryStore) RestoreLink(rec *Record, navigation, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.records[targetID]
	if !ok {
		return odataerr.New(odataerr.KindNotFound, odataerr.CodeResourceNotFound, targetID, "linked resource not found")
	}
	rec.links[navigation] = append(rec.links[navigation], target)
	return nil
}

// RestoreMedia attaches stored media content to a restored record
func (s *MemoryStore) RestoreMedia(rec *Record, media *Media) {
	s.mu.Lock()
	rec.media = media
	s.mu.Unlock()
}

// TypeName implements writer.Source
func (s *MemoryStore) TypeName(instance any) (string, error) {
	rec, err := s.record(instance)
	if err != nil {
		return "", err
	}
	return rec.Type, nil
}

// Value implements writer.Source for records and complex values
func (s *MemoryStore) Value(instance any, property string) (any, error) {
	if values, ok := instance.(map[string]any); ok {
		return values[property], nil
	}
	return s.GetValue(instance, property)
}

// Related implements writer.Source
func (s *MemoryStore) Related(instance any, navigation string) (any, error) {
	rec, err := s.record(instance)
	if err != nil {
		return nil, err
	}
	t, ok := s.provider.ResolveType(rec.Type)
	if !ok {
		return nil, odataerr.Provider(odataerr.CodeTypeNotFound, rec.Type, "stored type is not in the metadata")
	}
	nav, ok := s.provider.FindNavigationProperty(t, navigation)
	if !ok {
		return nil, odataerr.Provider(odataerr.CodePropertyNotFound, navigation, "no such navigation property on %s", rec.Type)
	}

	s.mu.Lock()
	targets := append([]*Record(nil), rec.links[navigation]...)
	s.mu.Unlock()

	if nav.IsCollection() {
		items := make([]any, 0, len(targets))
		for _, target := range targets {
			items = append(items, target)
		}
		return writer.NewSliceEnumerator(items, false), nil
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets[0], nil
}

// OpenProperties implements writer.OpenPropertySource
func (s *MemoryStore) OpenProperties(instance any) ([]string, error) {
	rec, err := s.record(instance)
	if err != nil {
		return nil, err
	}
	t, ok := s.provider.ResolveType(rec.Type)
	if !ok || !t.OpenType {
		return nil, nil
	}
	var names []string
	for name := range rec.values {
		if _, declared := s.provider.FindProperty(t, name); declared {
			continue
		}
		if _, declared := s.provider.FindNavigationProperty(t, name); declared {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Stream implements writer.StreamSource
func (s *MemoryStore) Stream(instance any) (*writer.Stream, bool, error) {
	rec, err := s.record(instance)
	if err != nil {
		return nil, false, err
	}
	if rec.media == nil {
		return nil, false, nil
	}
	return &writer.Stream{
		ContentType: rec.media.ContentType,
		ETag:        fmt.Sprintf(`"%d"`, rec.version),
	}, true, nil
}

func (s *MemoryStore) record(resource any) (*Record, error) {
	rec, ok := resource.(*Record)
	if !ok || rec == nil {
		return nil, unknownHandle(resource)
	}
	return rec, nil
}

func unknownHandle(resource any) error {
	return odataerr.Provider(odataerr.CodeInconsistentType, "", "unexpected resource handle %T", resource)
}

var (
	_ Updatable                 = (*MemoryStore)(nil)
	_ StreamUpdatable           = (*MemoryStore)(nil)
	_ writer.Source             = (*MemoryStore)(nil)
	_ writer.OpenPropertySource = (*MemoryStore)(nil)
	_ writer.ETagSource         = (*MemoryStore)(nil)
	_ writer.StreamSource       = (*MemoryStore)(nil)
)
