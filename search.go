package redom

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultPage     = 1
	defaultPageSize = 25
	maxPageSize     = 100
	tagSeparator    = "|"
)

// SortOrder is the direction of a sort.
type SortOrder int

const (
	SortAsc SortOrder = iota
	SortDesc
)

func (s SortOrder) String() string {
	if s == SortDesc {
		return "DESC"
	}
	return "ASC"
}

// FilterOperator is the operator of one filter expression.
type FilterOperator int

const (
	OperatorEq FilterOperator = iota
	OperatorRange
	OperatorBool
	OperatorPrefix
	OperatorContains
	OperatorExact
	OperatorFuzzy
)

// FilterDescriptor is one parsed filter expression before index-type
// mapping.
type FilterDescriptor struct {
	Field    string
	Operator FilterOperator
	Values   []string
}

// FilterCondition is a composable query condition: leaves match one
// field, And/Or build arbitrary trees. Top-level conditions combine with
// AND; values within a TagEquals leaf combine with OR.
type FilterCondition struct {
	kind   conditionKind
	field  string
	values []string
	flag   bool
	min    *float64
	max    *float64

	children []FilterCondition
}

type conditionKind int

const (
	condTagEquals conditionKind = iota
	condNumericRange
	condBooleanEquals
	condTextPrefix
	condTextContains
	condTextExact
	condTextFuzzy
	condAnd
	condOr
)

// TagEq matches a TAG field against one value.
func TagEq(field, value string) FilterCondition {
	return FilterCondition{kind: condTagEquals, field: field, values: []string{value}}
}

// TagIn matches a TAG field against any of the values.
func TagIn(field string, values ...string) FilterCondition {
	return FilterCondition{kind: condTagEquals, field: field, values: values}
}

// BoolEq matches a boolean TAG field.
func BoolEq(field string, value bool) FilterCondition {
	return FilterCondition{kind: condBooleanEquals, field: field, flag: value}
}

// NumericRange matches a NUMERIC field within inclusive bounds; nil means
// unbounded.
func NumericRange(field string, min, max *float64) FilterCondition {
	return FilterCondition{kind: condNumericRange, field: field, min: min, max: max}
}

// NumericEq matches a NUMERIC field exactly.
func NumericEq(field string, value float64) FilterCondition {
	return NumericRange(field, &value, &value)
}

// NumericGT matches values at or above min.
func NumericGT(field string, min float64) FilterCondition {
	return NumericRange(field, &min, nil)
}

// NumericLT matches values at or below max.
func NumericLT(field string, max float64) FilterCondition {
	return NumericRange(field, nil, &max)
}

// TextPrefix matches a TEXT field by tokenized prefix.
func TextPrefix(field, value string) FilterCondition {
	return FilterCondition{kind: condTextPrefix, field: field, values: []string{value}}
}

// TextContains matches a TEXT field by substring.
func TextContains(field, value string) FilterCondition {
	return FilterCondition{kind: condTextContains, field: field, values: []string{value}}
}

// TextExact matches a TEXT field by exact phrase.
func TextExact(field, value string) FilterCondition {
	return FilterCondition{kind: condTextExact, field: field, values: []string{value}}
}

// TextFuzzy matches a TEXT field by Levenshtein distance.
func TextFuzzy(field, value string) FilterCondition {
	return FilterCondition{kind: condTextFuzzy, field: field, values: []string{value}}
}

// And combines conditions conjunctively.
func And(conditions ...FilterCondition) FilterCondition {
	return FilterCondition{kind: condAnd, children: conditions}
}

// Or combines conditions disjunctively.
func Or(conditions ...FilterCondition) FilterCondition {
	return FilterCondition{kind: condOr, children: conditions}
}

// QueryClause renders the condition as a query fragment.
func (c FilterCondition) QueryClause() string {
	switch c.kind {
	case condTagEquals:
		escaped := make([]string, 0, len(c.values))
		for _, value := range c.values {
			escaped = append(escaped, EscapeTagValue(value))
		}
		return fmt.Sprintf("(@%s:{%s})", c.field, strings.Join(escaped, tagSeparator))
	case condNumericRange:
		minRepr := "-inf"
		if c.min != nil {
			minRepr = formatNumeric(*c.min)
		}
		maxRepr := "+inf"
		if c.max != nil {
			maxRepr = formatNumeric(*c.max)
		}
		return fmt.Sprintf("(@%s:[%s %s])", c.field, minRepr, maxRepr)
	case condBooleanEquals:
		normalized := "false"
		if c.flag {
			normalized = "true"
		}
		return fmt.Sprintf("(@%s:{%s})", c.field, normalized)
	case condTextPrefix:
		return fmt.Sprintf("(@%s:%s)", c.field, EscapeTextPrefix(c.values[0]))
	case condTextContains:
		return fmt.Sprintf("(@%s:%s)", c.field, EscapeTextContains(c.values[0]))
	case condTextExact:
		return fmt.Sprintf("(@%s:%s)", c.field, EscapeTextExact(c.values[0]))
	case condTextFuzzy:
		return fmt.Sprintf("(@%s:%s)", c.field, EscapeTextFuzzy(c.values[0]))
	case condAnd, condOr:
		clauses := make([]string, 0, len(c.children))
		for _, child := range c.children {
			clause := child.QueryClause()
			if clause != "" {
				clauses = append(clauses, clause)
			}
		}
		switch len(clauses) {
		case 0:
			return ""
		case 1:
			return clauses[0]
		}
		join := " "
		if c.kind == condOr {
			join = "|"
		}
		return "(" + strings.Join(clauses, join) + ")"
	}
	return ""
}

// SearchSort is a resolved sort field and direction.
type SearchSort struct {
	Field string
	Order SortOrder
}

// SearchParams is the compiled, programmatic form of a search.
type SearchParams struct {
	Page       int
	PageSize   int
	Sort       *SearchSort
	Conditions []FilterCondition
	TextQuery  string
	Raw        string
}

func NewSearchParams() SearchParams {
	return SearchParams{Page: defaultPage, PageSize: defaultPageSize}
}

func (p SearchParams) Offset() int {
	page := p.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * p.PageSize
}

func (p SearchParams) WithCondition(conditions ...FilterCondition) SearchParams {
	p.Conditions = append(p.Conditions, conditions...)
	return p
}

func (p SearchParams) WithSort(field string, order SortOrder) SearchParams {
	p.Sort = &SearchSort{Field: field, Order: order}
	return p
}

func (p SearchParams) WithPage(page, pageSize int) SearchParams {
	p.Page = page
	p.PageSize = pageSize
	return p
}

func (p SearchParams) WithTextQuery(query string) SearchParams {
	p.TextQuery = query
	return p
}

// WithRaw sets a raw query clause escape hatch. Use sparingly.
func (p SearchParams) WithRaw(raw string) SearchParams {
	p.Raw = raw
	return p
}

// BuildQuery renders the final query string: base filter, conditions,
// free-text and raw clauses ANDed together, or "*" when empty.
func (p SearchParams) BuildQuery(base string) string {
	var clauses []string
	if base != "" {
		clauses = append(clauses, "("+base+")")
	}
	for _, condition := range p.Conditions {
		clause := condition.QueryClause()
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	if p.TextQuery != "" {
		clauses = append(clauses, "("+p.TextQuery+")")
	}
	if p.Raw != "" {
		clauses = append(clauses, "("+p.Raw+")")
	}
	if len(clauses) == 0 {
		return "*"
	}
	return strings.Join(clauses, " ")
}

// SearchQuery is the user-facing query record: paging, sorting, free
// text, and filters as "field:operator:value" strings.
type SearchQuery struct {
	Page     int      `json:"page" query:"page"`
	PageSize int      `json:"page_size" query:"page_size"`
	SortBy   string   `json:"sort_by" query:"sort_by"`
	SortOrd  string   `json:"sort_order" query:"sort_order"`
	Q        string   `json:"q" query:"q"`
	Filter   []string `json:"filter" query:"filter"`
}

// parseOperator maps the wire operator names.
func parseOperator(raw string) (FilterOperator, error) {
	switch strings.ToLower(raw) {
	case "eq":
		return OperatorEq, nil
	case "range":
		return OperatorRange, nil
	case "bool", "boolean":
		return OperatorBool, nil
	case "prefix":
		return OperatorPrefix, nil
	case "contains":
		return OperatorContains, nil
	case "exact":
		return OperatorExact, nil
	case "fuzzy":
		return OperatorFuzzy, nil
	}
	return 0, invalidRequestf("unsupported filter operator: %s", raw)
}

// Compile resolves the query against an entity descriptor: sort fields
// are checked against the allow list, filters are mapped by the declared
// index type of each field, and the free text is expanded across the
// declared text-search fields.
func (q SearchQuery) Compile(descriptor *EntityDescriptor) (SearchParams, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := q.Page
	if page < 1 {
		page = defaultPage
	}

	params := NewSearchParams().WithPage(page, pageSize)

	sort, err := resolveSort(descriptor, q.SortBy, q.SortOrd)
	if err != nil {
		return SearchParams{}, err
	}
	params.Sort = sort

	for _, raw := range q.Filter {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return SearchParams{}, invalidRequestf("invalid filter syntax: %s", raw)
		}
		operator, err := parseOperator(parts[1])
		if err != nil {
			return SearchParams{}, err
		}

		var values []string
		switch operator {
		case OperatorEq, OperatorBool:
			for _, segment := range strings.FieldsFunc(parts[2], func(r rune) bool { return r == '|' || r == ',' }) {
				segment = strings.TrimSpace(segment)
				if segment != "" {
					values = append(values, segment)
				}
			}
		case OperatorRange:
			for _, segment := range strings.Split(parts[2], ",") {
				values = append(values, strings.TrimSpace(segment))
			}
		default:
			values = []string{parts[2]}
		}

		condition, err := mapFilter(descriptor, FilterDescriptor{
			Field:    strings.TrimSpace(parts[0]),
			Operator: operator,
			Values:   values,
		})
		if err != nil {
			return SearchParams{}, err
		}
		params.Conditions = append(params.Conditions, condition)
	}

	params.TextQuery = BuildTextQuery(q.Q, descriptor.TextSearchFields)
	return params, nil
}

func resolveSort(descriptor *EntityDescriptor, sortBy, sortOrder string) (*SearchSort, error) {
	var field *SortField
	if sortBy != "" {
		for i := range descriptor.AllowedSorts {
			if strings.EqualFold(descriptor.AllowedSorts[i].Name, sortBy) {
				field = &descriptor.AllowedSorts[i]
				break
			}
		}
		if field == nil {
			return nil, invalidRequestf("unsupported sort field: %s", sortBy)
		}
	} else if len(descriptor.AllowedSorts) > 0 {
		field = &descriptor.AllowedSorts[0]
	}
	if field == nil {
		return nil, nil
	}

	order := field.DefaultOrder
	switch strings.ToLower(sortOrder) {
	case "asc":
		order = SortAsc
	case "desc":
		order = SortDesc
	case "":
	default:
		return nil, invalidRequestf("unsupported sort order: %s", sortOrder)
	}
	return &SearchSort{Field: field.Path, Order: order}, nil
}

// BuildTextQuery expands a free-text term across the text-search fields:
// whitespace tokens each get operator escaping and a trailing wildcard,
// and the per-field groups are OR-joined.
func BuildTextQuery(term string, fields []string) string {
	term = strings.TrimSpace(term)
	if term == "" || len(fields) == 0 {
		return ""
	}
	tokens := strings.Fields(term)
	if len(tokens) == 0 {
		return ""
	}
	escaped := make([]string, 0, len(tokens))
	for _, token := range tokens {
		escaped = append(escaped, EscapeTextSearch(token))
	}
	joined := strings.Join(escaped, " ")
	groups := make([]string, 0, len(fields))
	for _, field := range fields {
		groups = append(groups, fmt.Sprintf("@%s:(%s)", field, joined))
	}
	return "(" + strings.Join(groups, " | ") + ")"
}

// SearchResult is one page of decoded documents.
type SearchResult[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}

func (r SearchResult[T]) HasMore() bool {
	return int64(r.Page)*int64(r.PageSize) < r.Total
}

// IndexDefinition describes the secondary index of one collection.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Filter   string
	Schema   []IndexField
}

// indexDefinition derives the index from the descriptor and key prefix.
func indexDefinition(descriptor *EntityDescriptor, prefix string) IndexDefinition {
	return IndexDefinition{
		Name:     fmt.Sprintf("%s-%s-%s-idx", prefix, descriptor.Service, descriptor.Collection),
		Prefixes: []string{fmt.Sprintf("%s:%s:%s:", prefix, descriptor.Service, descriptor.Collection)},
		Filter:   descriptor.BaseFilter,
		Schema:   descriptor.IndexFields,
	}
}

// EnsureSearchIndex creates the collection's index if the store does not
// have it yet. The result is memoized per index name.
func (r *Repo[T]) EnsureSearchIndex(ctx context.Context) error {
	definition := indexDefinition(&r.descriptor, r.client.prefix)
	if _, ok := r.client.ensured.Get(definition.Name); ok {
		return nil
	}

	names, err := r.client.rdb.Do(ctx, "FT._LIST").StringSlice()
	if err == nil {
		for _, name := range names {
			if name == definition.Name {
				r.client.ensured.SetDefault(definition.Name, struct{}{})
				return nil
			}
		}
	}

	args := []any{"FT.CREATE", definition.Name, "ON", "JSON", "PREFIX", len(definition.Prefixes)}
	for _, prefix := range definition.Prefixes {
		args = append(args, prefix)
	}
	if definition.Filter != "" {
		args = append(args, "FILTER", definition.Filter)
	}
	args = append(args, "SCHEMA")
	for _, field := range definition.Schema {
		args = append(args, field.Path, "AS", field.FieldName)
		switch field.Type {
		case IndexTag:
			args = append(args, "TAG", "SEPARATOR", tagSeparator)
		case IndexText:
			args = append(args, "TEXT")
		case IndexNumeric:
			args = append(args, "NUMERIC")
		}
		if field.Sortable {
			args = append(args, "SORTABLE")
		}
	}

	if err := r.client.rdb.Do(ctx, args...).Err(); err != nil {
		if !indexExistsError(err) {
			return pkgerrors.Wrap(err, "create search index")
		}
	}
	r.client.ensured.SetDefault(definition.Name, struct{}{})
	return nil
}

func indexExistsError(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "already exists") && strings.Contains(message, "index")
}

// Search executes compiled parameters against the collection's index.
func (r *Repo[T]) Search(ctx context.Context, params SearchParams) (SearchResult[T], error) {
	definition := indexDefinition(&r.descriptor, r.client.prefix)
	query := params.BuildQuery(r.descriptor.BaseFilter)

	args := []any{"FT.SEARCH", definition.Name, query}
	if params.Sort != nil {
		args = append(args, "SORTBY", params.Sort.Field, params.Sort.Order.String())
	}
	args = append(args, "LIMIT", params.Offset(), params.PageSize)
	args = append(args, "RETURN", 1, "$")
	args = append(args, "DIALECT", 3)

	ctx, span := tracer.Start(ctx, "redom.search")
	span.SetAttributes(attribute.String("redom.index", definition.Name))
	defer span.End()

	raw, err := r.client.rdb.Do(ctx, args...).Result()
	if err != nil {
		return SearchResult[T]{}, pkgerrors.Wrap(err, "search")
	}

	total, payloads, err := parseSearchReply(raw)
	if err != nil {
		return SearchResult[T]{}, err
	}

	items := make([]T, 0, len(payloads))
	for _, payload := range payloads {
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return SearchResult[T]{}, pkgerrors.Wrap(err, "decode search document")
		}
		items = append(items, item)
	}

	return SearchResult[T]{
		Items:    items,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}, nil
}

// SearchWith compiles a user query against the descriptor and executes
// it.
func (r *Repo[T]) SearchWith(ctx context.Context, query SearchQuery) (SearchResult[T], error) {
	params, err := query.Compile(&r.descriptor)
	if err != nil {
		return SearchResult[T]{}, err
	}
	return r.Search(ctx, params)
}

// parseSearchReply handles both reply shapes: the RESP2 flat array
// [total, key, fields, ...] and the RESP3 map with total_results and
// results entries.
func parseSearchReply(raw any) (int64, []string, error) {
	switch reply := raw.(type) {
	case []any:
		if len(reply) == 0 {
			return 0, nil, nil
		}
		total, err := anyToInt64(reply[0])
		if err != nil {
			return 0, nil, invalidRequestf("invalid total count in search reply")
		}
		var payloads []string
		for idx := 1; idx+1 < len(reply); idx += 2 {
			payload, err := extractDocPayload(reply[idx+1])
			if err != nil {
				return 0, nil, err
			}
			payloads = append(payloads, payload)
		}
		return total, payloads, nil
	case map[any]any:
		return parseSearchMap(reply)
	case map[string]any:
		converted := make(map[any]any, len(reply))
		for key, value := range reply {
			converted[key] = value
		}
		return parseSearchMap(converted)
	}
	return 0, nil, invalidRequestf("unexpected search reply type %T", raw)
}

func parseSearchMap(reply map[any]any) (int64, []string, error) {
	total, err := anyToInt64(reply["total_results"])
	if err != nil {
		return 0, nil, invalidRequestf("invalid total count in search reply")
	}
	results, _ := reply["results"].([]any)
	var payloads []string
	for _, entry := range results {
		attrs := entry
		if m, ok := entry.(map[any]any); ok {
			if extra, found := m["extra_attributes"]; found {
				attrs = extra
			}
		}
		if m, ok := entry.(map[string]any); ok {
			if extra, found := m["extra_attributes"]; found {
				attrs = extra
			}
		}
		payload, err := extractDocPayload(attrs)
		if err != nil {
			return 0, nil, err
		}
		payloads = append(payloads, payload)
	}
	return total, payloads, nil
}

// extractDocPayload pulls the "$" JSON document out of a per-hit field
// list or map, unwrapping the one-element array DIALECT 3 produces.
func extractDocPayload(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return normalizeDocPayload(v)
	case []any:
		for idx := 0; idx+1 < len(v); idx += 2 {
			alias, _ := v[idx].(string)
			if alias == "$" || alias == "doc" {
				payload, _ := v[idx+1].(string)
				return normalizeDocPayload(payload)
			}
		}
	case map[any]any:
		for alias, payload := range v {
			name, _ := alias.(string)
			if name == "$" || name == "doc" {
				s, _ := payload.(string)
				return normalizeDocPayload(s)
			}
		}
	case map[string]any:
		for alias, payload := range v {
			if alias == "$" || alias == "doc" {
				s, _ := payload.(string)
				return normalizeDocPayload(s)
			}
		}
	}
	return "", invalidRequestf("search reply missing JSON payload")
}

func normalizeDocPayload(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var elements []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &elements); err != nil {
			return "", pkgerrors.Wrap(err, "parse search payload array")
		}
		if len(elements) > 0 {
			return string(elements[0]), nil
		}
	}
	return payload, nil
}

func anyToInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("not a number: %T", value)
}

func formatNumeric(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// EscapeTagValue escapes a value for TAG queries. TAG matching is exact;
// the escape set covers the query operators that would otherwise change
// meaning: $ { } \ | - . (hyphen is NOT, period is the JSON path
// separator).
func EscapeTagValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, ch := range value {
		switch ch {
		case '$', '{', '}', '\\', '|', '-', '.':
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// EscapeTextPrefix tokenizes on the index-time tokenizers '-' and '/',
// escapes each token for query operators, and wildcards the last token.
// Querying the raw value would let '-' read as NOT and miss everything.
func EscapeTextPrefix(value string) string {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == '-' || r == '/' })
	if len(fields) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(fields))
	for i, token := range fields {
		escaped := escapeTextToken(token)
		if i == len(fields)-1 {
			escaped += "*"
		}
		parts = append(parts, escaped)
	}
	return strings.Join(parts, " ")
}

// EscapeTextContains wraps the operator-escaped value in wildcards.
func EscapeTextContains(value string) string {
	return "*" + escapeTextValue(value) + "*"
}

// EscapeTextExact wraps the value in quotes, escaping only backslash and
// quote.
func EscapeTextExact(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 2)
	b.WriteByte('"')
	for _, ch := range value {
		if ch == '\\' || ch == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	b.WriteByte('"')
	return b.String()
}

// EscapeTextFuzzy wraps the operator-escaped value in fuzzy markers.
func EscapeTextFuzzy(value string) string {
	return "%" + escapeTextValue(value) + "%"
}

// EscapeTextSearch escapes a free-text token and appends the prefix
// wildcard.
func EscapeTextSearch(term string) string {
	return escapeTextToken(term) + "*"
}

// escapeTextValue escapes query operators in TEXT values. '-' and '/'
// stay unescaped: they are tokenizers at index time and must match
// unescaped at query time.
func escapeTextValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, ch := range value {
		switch ch {
		case '\\', '(', ')', '|', '\'', '"', '[', ']', '{', '}', ':', '@', '?', '~', '&', '!', '.', '*', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// escapeTextToken is escapeTextValue minus '*' and '%', which the caller
// appends as wildcards or fuzzy markers.
func escapeTextToken(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, ch := range token {
		switch ch {
		case '\\', '(', ')', '|', '\'', '"', '[', ']', '{', '}', ':', '@', '?', '~', '&', '!', '.':
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}
