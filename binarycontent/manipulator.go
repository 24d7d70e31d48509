package binarycontent

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/logger"
	"github.com/featurebasedb/relstore/persistence"
)

const (
	ErrNoAttachment      errors.Code = "NoAttachment"
	ErrContentIncomplete errors.Code = "ContentIncomplete"
	ErrInvalidContent    errors.Code = "InvalidContent"
	ErrNotLoaded         errors.Code = "NotLoaded"

	// HashPrefix marks the algorithm of a stored content hash.
	HashPrefix = "blake3:"

	// DefaultFetchConcurrency bounds the parallel blob part reads of Blob.
	DefaultFetchConcurrency = 4
)

// State is where an attachment is in its two-phase write.
type State int

const (
	// Pending rows have no payload yet, or a write of it did not finish.
	Pending State = iota
	// Complete rows carry a payload whose parts match ContentHash.
	Complete
)

func (s State) String() string {
	if s == Complete {
		return "COMPLETE"
	}
	return "PENDING"
}

func parseState(s string) State {
	if s == Complete.String() {
		return Complete
	}
	return Pending
}

// Outcome reports what SetValue did.
type Outcome int

const (
	// FileUnchanged: the slot already holds this payload, or a placeholder
	// was requested for a slot that exists.
	FileUnchanged Outcome = iota
	// NewFileVersion: the slot holds a different payload. It was replaced
	// only if the caller allowed an overwrite.
	NewFileVersion
	// CompletelyNewFile: the slot was created, or filled for the first time.
	CompletelyNewFile
)

func (o Outcome) String() string {
	switch o {
	case FileUnchanged:
		return "FILE_UNCHANGED"
	case NewFileVersion:
		return "NEW_FILE_VERSION"
	case CompletelyNewFile:
		return "COMPLETELY_NEW_FILE"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ContentHash returns the hash SetValue stores for data.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// Manipulator reads and writes the attachments of one parent record. It
// caches the content rows after Load; a Manipulator is safe for concurrent
// use but not for concurrent writers of the same parent in other processes.
type Manipulator struct {
	rels        *Relations
	parentURI   string
	topLevelURI string
	ds          persistence.Datastore
	user        string
	logger      logger.Logger
	concurrency int

	mu sync.Mutex
	// attachments[i] holds ordinal i+1; nil until loaded.
	attachments []*persistence.Entity
}

// ManipulatorOption configures a Manipulator.
type ManipulatorOption func(m *Manipulator) error

func OptManipulatorLogger(l logger.Logger) ManipulatorOption {
	return func(m *Manipulator) error {
		m.logger = l
		return nil
	}
}

// OptFetchConcurrency sets how many blob parts Blob reads at once.
func OptFetchConcurrency(n int) ManipulatorOption {
	return func(m *Manipulator) error {
		if n <= 0 {
			return errors.Errorf("fetch concurrency must be positive, got %d", n)
		}
		m.concurrency = n
		return nil
	}
}

// New returns a Manipulator for the attachments of parentURI, whose
// enclosing top-level record is topLevelURI (parentURI itself for a top-level
// parent). rels must already be asserted on ds.
func New(rels *Relations, parentURI, topLevelURI string, ds persistence.Datastore, user string, opts ...ManipulatorOption) (*Manipulator, error) {
	m := &Manipulator{
		rels:        rels,
		parentURI:   parentURI,
		topLevelURI: topLevelURI,
		ds:          ds,
		user:        user,
		logger:      logger.NopLogger,
		concurrency: DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Load reads the content rows of the parent, replacing anything cached. The
// ordinals must run 1..n without gaps or duplicates; otherwise the rows are
// still cached by position and an EnumeratedElement error is returned.
func (m *Manipulator) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

func (m *Manipulator) load(ctx context.Context) error {
	r := m.rels
	rows, err := m.ds.CreateQuery(r.Content, m.user).
		AddFilter(r.parent, persistence.EQ, m.parentURI).
		AddSort(r.ordinal, persistence.Ascending).
		Execute(ctx)
	if err != nil {
		return errors.Wrapf(err, "loading attachments of %s", m.parentURI)
	}
	if rows == nil {
		rows = []*persistence.Entity{}
	}
	m.attachments = rows

	var first error
	for i, e := range rows {
		got, _ := e.Int(r.ordinal)
		if want := int64(i + 1); got != want && first == nil {
			first = persistence.NewErrEnumeratedElement(r.Content.QualifiedName(), m.parentURI, want, got)
		}
	}
	return first
}

func (m *Manipulator) ensureLoaded(ctx context.Context) error {
	if m.attachments != nil {
		return nil
	}
	return m.load(ctx)
}

// attachment returns the content row of a 1-based ordinal.
func (m *Manipulator) attachment(ordinal int) (*persistence.Entity, error) {
	if m.attachments == nil {
		return nil, errors.New(ErrNotLoaded, "attachments of "+m.parentURI+" are not loaded")
	}
	if ordinal < 1 || ordinal > len(m.attachments) {
		return nil, errors.Newf(ErrNoAttachment, "%s has no attachment %d", m.parentURI, ordinal)
	}
	return m.attachments[ordinal-1], nil
}

// AttachmentCount returns the number of loaded attachment slots.
func (m *Manipulator) AttachmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments)
}

// UnrootedFilename returns the path of an attachment, "" when it has none.
func (m *Manipulator) UnrootedFilename(ordinal int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.attachment(ordinal)
	if err != nil {
		return "", err
	}
	return e.String(m.rels.path), nil
}

// State returns the write state of an attachment.
func (m *Manipulator) State(ordinal int) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.attachment(ordinal)
	if err != nil {
		return Pending, err
	}
	return parseState(e.String(m.rels.state)), nil
}

// complete returns the content row of ordinal, or nil when its payload is
// not complete.
func (m *Manipulator) complete(ordinal int) (*persistence.Entity, error) {
	e, err := m.attachment(ordinal)
	if err != nil || parseState(e.String(m.rels.state)) != Complete {
		return nil, err
	}
	return e, nil
}

// ContentType returns the content type, "" unless the payload is complete.
func (m *Manipulator) ContentType(ordinal int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.complete(ordinal)
	if e == nil {
		return "", err
	}
	return e.String(m.rels.contentType), nil
}

// ContentLength returns the payload size, -1 unless the payload is complete.
func (m *Manipulator) ContentLength(ordinal int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.complete(ordinal)
	if e == nil {
		return -1, err
	}
	n, _ := e.Int(m.rels.length)
	return n, nil
}

// ContentHash returns the stored hash, "" unless the payload is complete.
func (m *Manipulator) ContentHash(ordinal int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.complete(ordinal)
	if e == nil {
		return "", err
	}
	return e.String(m.rels.hash), nil
}

// Blob reassembles the payload of a complete attachment.
func (m *Manipulator) Blob(ctx context.Context, ordinal int) ([]byte, error) {
	m.mu.Lock()
	if err := m.ensureLoaded(ctx); err != nil && !errors.Is(err, persistence.ErrEnumeratedElement) {
		m.mu.Unlock()
		return nil, err
	}
	e, err := m.attachment(ordinal)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if parseState(e.String(m.rels.state)) != Complete {
		return nil, errors.Newf(ErrContentIncomplete, "attachment %d of %s has no complete payload", ordinal, m.parentURI)
	}
	refs, err := m.parts(ctx, e.URI(), true)
	if err != nil {
		return nil, err
	}
	return m.fetch(ctx, refs)
}

// parts returns the association rows of a content row in part order. When
// strict, the parts must be numbered 1..n.
func (m *Manipulator) parts(ctx context.Context, contentURI string, strict bool) ([]*persistence.Entity, error) {
	r := m.rels
	refs, err := m.ds.CreateQuery(r.Ref, m.user).
		AddFilter(r.refDom, persistence.EQ, contentURI).
		AddSort(r.refPart, persistence.Ascending).
		Execute(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parts of %s", contentURI)
	}
	if strict {
		for i, ref := range refs {
			got, _ := ref.Int(r.refPart)
			if want := int64(i + 1); got != want {
				return nil, persistence.NewErrEnumeratedElement(r.Ref.QualifiedName(), contentURI, want, got)
			}
		}
	}
	return refs, nil
}

// fetch reads the blob rows named by refs concurrently and concatenates
// them in the order of refs.
func (m *Manipulator) fetch(ctx context.Context, refs []*persistence.Entity) ([]byte, error) {
	chunks := make([][]byte, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, ref := range refs {
		i, sub := i, ref.String(m.rels.refSub)
		g.Go(func() error {
			blob, err := m.ds.GetEntity(gctx, m.rels.Blob, sub, m.user)
			if err != nil {
				return errors.Wrapf(err, "reading part %d", i+1)
			}
			chunks[i] = blob.Bytes(m.rels.blobValue)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

// find returns the content row holding path, or nil.
func (m *Manipulator) find(path string) *persistence.Entity {
	for _, e := range m.attachments {
		if e.String(m.rels.path) == path {
			return e
		}
	}
	return nil
}

// newContent returns an unsaved content row for the next ordinal.
func (m *Manipulator) newContent(path string) (*persistence.Entity, error) {
	r := m.rels
	e := m.ds.CreateEntity(r.Content, m.user)
	if _, err := e.SetValue(r.parent, m.parentURI); err != nil {
		return nil, err
	}
	if _, err := e.SetValue(r.topLevel, m.topLevelURI); err != nil {
		return nil, err
	}
	if err := e.SetInt(r.ordinal, int64(len(m.attachments)+1)); err != nil {
		return nil, err
	}
	if path != "" {
		if ok, err := e.SetString(r.path, path); err != nil {
			return nil, err
		} else if !ok {
			return nil, persistence.NewErrOverflow(r.path.Name(), r.path.MaxLength(), len(path))
		}
	}
	if _, err := e.SetString(r.state, Pending.String()); err != nil {
		return nil, err
	}
	return e, nil
}

// SetValue stores data in the slot for path, "" being the slot without a
// path. A nil data with an empty contentType only declares the slot.
//
// An existing slot with a complete payload is compared by hash: the same
// payload is FileUnchanged, a different one is NewFileVersion and is only
// written when overwriteOK. Any other write returns CompletelyNewFile.
func (m *Manipulator) SetValue(ctx context.Context, data []byte, contentType, path string, overwriteOK bool) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(ctx); err != nil {
		return FileUnchanged, err
	}
	e := m.find(path)

	if data == nil && contentType == "" {
		if e != nil {
			return FileUnchanged, nil
		}
		e, err := m.newContent(path)
		if err != nil {
			return FileUnchanged, err
		}
		if err := m.ds.PutEntity(ctx, e, m.user); err != nil {
			return FileUnchanged, err
		}
		m.attachments = append(m.attachments, e)
		return CompletelyNewFile, nil
	}
	if data == nil || contentType == "" {
		return FileUnchanged, errors.New(ErrInvalidContent, "a payload needs both data and a content type")
	}

	hash := ContentHash(data)
	outcome := CompletelyNewFile
	if e != nil && parseState(e.String(m.rels.state)) == Complete {
		if e.String(m.rels.hash) == hash {
			return FileUnchanged, nil
		}
		if !overwriteOK {
			return NewFileVersion, nil
		}
		outcome = NewFileVersion
	}

	created := e == nil
	if created {
		var err error
		if e, err = m.newContent(path); err != nil {
			return FileUnchanged, err
		}
	}
	if err := m.write(ctx, e, created, data, contentType, hash); err != nil {
		return FileUnchanged, err
	}
	m.logger.Debugf("stored %d bytes as attachment %s of %s: %s", len(data), e.URI(), m.parentURI, outcome)
	return outcome, nil
}

// write stores data under content row e: mark the row pending, remove any
// parts left by an earlier write, write the new parts, then mark it complete.
func (m *Manipulator) write(ctx context.Context, e *persistence.Entity, created bool, data []byte, contentType, hash string) error {
	r := m.rels
	if err := e.SetNull(r.hash); err != nil {
		return err
	}
	if _, err := e.SetString(r.state, Pending.String()); err != nil {
		return err
	}
	if ok, err := e.SetString(r.contentType, contentType); err != nil {
		return err
	} else if !ok {
		return persistence.NewErrOverflow(r.contentType.Name(), r.contentType.MaxLength(), len(contentType))
	}
	if err := e.SetInt(r.length, int64(len(data))); err != nil {
		return err
	}
	if err := m.ds.PutEntity(ctx, e, m.user); err != nil {
		return err
	}
	if created {
		m.attachments = append(m.attachments, e)
	}

	stale, err := m.partKeys(ctx, e.URI())
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		m.logger.Warnf("removing %d stale blob rows of %s", len(stale), e.URI())
		if err := m.ds.DeleteEntities(ctx, reverseKeys(stale), m.user); err != nil {
			return errors.Wrapf(err, "removing stale parts of %s", e.URI())
		}
	}

	chunk := r.ChunkSize()
	for part, off := 1, 0; off < len(data); part, off = part+1, off+chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		if err := m.writePart(ctx, e.URI(), part, data[off:end]); err != nil {
			return err
		}
	}

	if _, err := e.SetString(r.hash, hash); err != nil {
		return err
	}
	if _, err := e.SetString(r.state, Complete.String()); err != nil {
		return err
	}
	return m.ds.PutEntity(ctx, e, m.user)
}

func (m *Manipulator) writePart(ctx context.Context, contentURI string, part int, chunk []byte) error {
	r := m.rels
	blob := m.ds.CreateEntity(r.Blob, m.user)
	if _, err := blob.SetValue(r.blobTopLevel, m.topLevelURI); err != nil {
		return err
	}
	if err := blob.SetBytes(r.blobValue, chunk); err != nil {
		return err
	}
	ref := m.ds.CreateEntity(r.Ref, m.user)
	if _, err := ref.SetValue(r.refTopLevel, m.topLevelURI); err != nil {
		return err
	}
	if _, err := ref.SetValue(r.refDom, contentURI); err != nil {
		return err
	}
	if _, err := ref.SetValue(r.refSub, blob.URI()); err != nil {
		return err
	}
	if err := ref.SetInt(r.refPart, int64(part)); err != nil {
		return err
	}
	if err := m.ds.PutEntity(ctx, blob, m.user); err != nil {
		return errors.Wrapf(err, "writing part %d of %s", part, contentURI)
	}
	if err := m.ds.PutEntity(ctx, ref, m.user); err != nil {
		return errors.Wrapf(err, "linking part %d of %s", part, contentURI)
	}
	return nil
}

// partKeys returns, for each association row of a content row, the key of
// its blob followed by its own key. Deleting the reverse of the list removes
// every association row before the blob it points to.
func (m *Manipulator) partKeys(ctx context.Context, contentURI string) ([]persistence.Key, error) {
	refs, err := m.parts(ctx, contentURI, false)
	if err != nil {
		return nil, err
	}
	keys := make([]persistence.Key, 0, 2*len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if sub := ref.String(m.rels.refSub); !seen[sub] {
			seen[sub] = true
			keys = append(keys, persistence.Key{Relation: m.rels.Blob, URI: sub})
		}
		keys = append(keys, ref.Key())
	}
	return keys, nil
}

func reverseKeys(keys []persistence.Key) []persistence.Key {
	out := make([]persistence.Key, len(keys))
	for i, k := range keys {
		out[len(keys)-1-i] = k
	}
	return out
}

// RenameFilePath moves the attachment at from to the path to. It returns
// false when both paths are taken, and true when the rename happened, the
// paths are equal or nothing is stored at from.
func (m *Manipulator) RenameFilePath(ctx context.Context, from, to string) (bool, error) {
	if from == to {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(ctx); err != nil {
		return false, err
	}
	src, dst := m.find(from), m.find(to)
	switch {
	case src != nil && dst != nil:
		return false, nil
	case src == nil:
		return true, nil
	}
	var err error
	if to == "" {
		err = src.SetNull(m.rels.path)
	} else {
		var ok bool
		if ok, err = src.SetString(m.rels.path, to); err == nil && !ok {
			err = persistence.NewErrOverflow(m.rels.path.Name(), m.rels.path.MaxLength(), len(to))
		}
	}
	if err != nil {
		return false, err
	}
	if err := m.ds.PutEntity(ctx, src, m.user); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAll removes every attachment of the parent with all of its parts.
// The complete set of keys is read before anything is deleted. Each content
// row goes before its parts, and each association row before its blob.
func (m *Manipulator) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Broken ordinals do not matter when everything goes.
	if err := m.load(ctx); err != nil && !errors.Is(err, persistence.ErrEnumeratedElement) {
		return err
	}

	var keys []persistence.Key
	for _, e := range m.attachments {
		pk, err := m.partKeys(ctx, e.URI())
		if err != nil {
			return err
		}
		keys = append(keys, pk...)
		keys = append(keys, e.Key())
	}
	if err := m.ds.DeleteEntities(ctx, reverseKeys(keys), m.user); err != nil {
		m.attachments = nil
		return errors.Wrapf(err, "deleting attachments of %s", m.parentURI)
	}
	m.attachments = []*persistence.Entity{}
	return nil
}

// Persist writes the cached content rows back, e.g. after the parent's
// audit columns were touched. It does nothing before Load.
func (m *Manipulator) Persist(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.attachments) == 0 {
		return nil
	}
	return m.ds.PutEntities(ctx, m.attachments, m.user)
}
