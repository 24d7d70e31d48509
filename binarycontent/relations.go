// Package binarycontent stores attachments of arbitrary size in three
// relations: one content row per attachment slot, and the payload split into
// bounded blob parts linked to the content row by ordered association rows.
package binarycontent

import (
	"context"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
)

const (
	// Column names of the content relation.
	UnrootedFilePathColumn = "UNROOTED_FILE_PATH"
	ContentTypeColumn      = "CONTENT_TYPE"
	ContentLengthColumn    = "CONTENT_LENGTH"
	ContentHashColumn      = "CONTENT_HASH"
	ContentStateColumn     = "CONTENT_STATE"

	// Column names of the association and blob relations.
	PartColumn  = "PART"
	ValueColumn = "VALUE"

	// Table name suffixes of the association and blob relations.
	RefSuffix  = "_REF"
	BlobSuffix = "_BLB"

	// DefaultMaxChunkSize caps parts on backends whose blob columns are
	// much larger than a sensible single write.
	DefaultMaxChunkSize = 1 << 20

	maxPathLen = 4096
)

// Relations is one set of the three attachment relations. Each distinct
// attachment kind gets its own set; one set holds any number of attachments
// per parent, distinguished by ordinal.
type Relations struct {
	Content *persistence.Relation
	Ref     *persistence.Relation
	Blob    *persistence.Relation

	parent, ordinal, topLevel *persistence.Field
	path, contentType         *persistence.Field
	length, hash, state       *persistence.Field

	refDom, refSub, refTopLevel, refPart *persistence.Field

	blobTopLevel, blobValue *persistence.Field

	maxChunk int
}

// RelationsOption configures Relations.
type RelationsOption func(r *Relations) error

// OptMaxChunkSize caps the size of a blob part below what the VALUE column
// can hold.
func OptMaxChunkSize(n int) RelationsOption {
	return func(r *Relations) error {
		if n <= 0 {
			return errors.Errorf("chunk size must be positive, got %d", n)
		}
		r.maxChunk = n
		return nil
	}
}

// NewRelations declares the relations table, table_REF and table_BLB in
// schema. They must be asserted before use.
func NewRelations(schema, table string, opts ...RelationsOption) (*Relations, error) {
	r := &Relations{
		parent:      persistence.ParentAuriField(),
		ordinal:     persistence.OrdinalNumberField(),
		topLevel:    persistence.TopLevelAuriField(),
		path:        persistence.NewStringField(UnrootedFilePathColumn, true, maxPathLen),
		contentType: persistence.NewStringField(ContentTypeColumn, true, 80),
		length:      persistence.NewIntegerField(ContentLengthColumn, true, 19),
		hash:        persistence.NewStringField(ContentHashColumn, true, 80),
		state:       persistence.NewStringField(ContentStateColumn, false, 16),

		refDom:      persistence.DomAuriField(),
		refSub:      persistence.SubAuriField(),
		refTopLevel: persistence.TopLevelAuriField(),
		refPart:     persistence.NewIntegerField(PartColumn, false, 9),

		blobTopLevel: persistence.TopLevelAuriField(),
		blobValue:    persistence.NewBinaryField(ValueColumn, false, 0),

		maxChunk: DefaultMaxChunkSize,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	var err error
	if r.Content, err = persistence.NewRelation(schema, table,
		r.parent, r.ordinal, r.topLevel, r.path, r.contentType, r.length, r.hash, r.state); err != nil {
		return nil, errors.Wrap(err, "declaring content relation")
	}
	if r.Ref, err = persistence.NewRelation(schema, table+RefSuffix,
		r.refDom, r.refSub, r.refTopLevel, r.refPart); err != nil {
		return nil, errors.Wrap(err, "declaring association relation")
	}
	if r.Blob, err = persistence.NewRelation(schema, table+BlobSuffix,
		r.blobTopLevel, r.blobValue); err != nil {
		return nil, errors.Wrap(err, "declaring blob relation")
	}
	return r, nil
}

// Assert reconciles all three relations against ds.
func (r *Relations) Assert(ctx context.Context, ds persistence.Datastore, user string) error {
	for _, rel := range []*persistence.Relation{r.Content, r.Ref, r.Blob} {
		if err := ds.AssertRelation(ctx, rel, user); err != nil {
			return errors.Wrapf(err, "asserting %s", rel.QualifiedName())
		}
	}
	return nil
}

// ChunkSize is the size of every blob part but the last: the reconciled
// length of the VALUE column, capped by the configured maximum.
func (r *Relations) ChunkSize() int {
	n := r.blobValue.MaxLength()
	if n <= 0 || n > r.maxChunk {
		return r.maxChunk
	}
	return n
}
