package redom

import "encoding/json"

// RelationKind describes how a relation binds two collections.
type RelationKind int

const (
	HasMany RelationKind = iota
	ManyToMany
	BelongsTo
)

// CascadePolicy is the rule applied to relation members when the source
// entity is deleted.
type CascadePolicy int

const (
	CascadeNone CascadePolicy = iota
	CascadeDetach
	CascadeDelete
)

// FieldType is the declared JSON shape of an entity field.
type FieldType int

const (
	FieldObject FieldType = iota
	FieldString
	FieldNumber
	FieldBoolean
	FieldArray
	FieldDateTime
)

// IndexFieldType selects the secondary-index type for a field.
type IndexFieldType int

const (
	IndexTag IndexFieldType = iota
	IndexText
	IndexNumeric
)

// EntityDescriptor is the per-type metadata an entity publishes at
// registration time. Hand-written implementations, code generation, and
// reflective registries all produce the same structure.
type EntityDescriptor struct {
	Service           string
	Collection        string
	SchemaVersion     int
	IDField           string
	Fields            []FieldDescriptor
	Relations         []RelationDescriptor
	UniqueConstraints []UniqueConstraint
	DerivedID         *DerivedID

	// Search metadata.
	IndexFields      []IndexField
	AllowedSorts     []SortField
	TextSearchFields []string
	BaseFilter       string
}

// FieldDescriptor declares one entity field.
type FieldDescriptor struct {
	Name             string
	Type             FieldType
	ElementType      FieldType
	Optional         bool
	IsID             bool
	IsRelationSlice  bool
	AutoCreated      bool
	AutoUpdated      bool
	DatetimeMirror   string
	NormalizeEnumTag bool
	Validations      []ValidationDescriptor
}

// RelationDescriptor declares one relation alias on an entity.
type RelationDescriptor struct {
	Alias         string
	Target        string
	TargetService string
	Kind          RelationKind
	Cascade       CascadePolicy
	ForeignKey    string
}

// MaintainReverse reports whether the relation keeps a reverse set.
// Many-to-many relations are bidirectional by nature; belongs-to relations
// with a cascade need the reverse set so the parent can find its children
// at delete time.
func (r RelationDescriptor) MaintainReverse() bool {
	if r.Kind == ManyToMany {
		return true
	}
	return r.Kind == BelongsTo && r.Cascade != CascadeNone
}

// UniqueConstraint declares a single- or multi-field uniqueness rule.
type UniqueConstraint struct {
	Fields          []string
	CaseInsensitive bool
}

func (u UniqueConstraint) IsCompound() bool {
	return len(u.Fields) > 1
}

// DerivedID declares an id computed by joining component field values.
type DerivedID struct {
	Separator  string
	Components []string
}

// IndexField maps a JSON path to a named search-index field.
type IndexField struct {
	Path      string
	FieldName string
	Type      IndexFieldType
	Sortable  bool
}

// SortField names a sortable field exposed to callers.
type SortField struct {
	Name         string
	Path         string
	DefaultOrder SortOrder
}

// DatetimeMirror carries a numeric shadow value for a datetime field.
// A nil Value deletes the mirror field.
type DatetimeMirror struct {
	Field       string `json:"field"`
	MirrorField string `json:"mirror_field"`
	Value       *int64 `json:"value"`
}

// Model is implemented by every entity type managed by redom. The
// descriptor must be stable across calls; register it once at startup.
type Model interface {
	EntityDescriptor() EntityDescriptor
}

// RelationQueryOptions carries paging and ordering options for relation
// fetches. RelatedIDs and GetRelated apply Offset and Limit (see
// EffectiveLimit) to the related ids sorted lexically; they do not apply
// Sort or Filter.
type RelationQueryOptions struct {
	Limit  int
	Sort   string
	Filter string
	Offset int
}

const (
	// DefaultRelationLimit caps relation fetches that do not specify a limit.
	DefaultRelationLimit = 100
	// MaxRelationLimit is the hard cap on relation fetch size.
	MaxRelationLimit = 1000
)

// EffectiveLimit applies the default and the hard cap.
func (o RelationQueryOptions) EffectiveLimit() int {
	limit := o.Limit
	if limit <= 0 {
		limit = DefaultRelationLimit
	}
	if limit > MaxRelationLimit {
		limit = MaxRelationLimit
	}
	return limit
}

// ParseSort splits the sort spec into field and direction. A leading '-'
// means descending.
func (o RelationQueryOptions) ParseSort() (string, SortOrder, bool) {
	if o.Sort == "" {
		return "", SortAsc, false
	}
	if o.Sort[0] == '-' {
		return o.Sort[1:], SortDesc, true
	}
	return o.Sort, SortAsc, true
}

// jsonString marshals v. The planner only feeds it plain maps and slices,
// for which marshaling cannot fail.
func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
