package redom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeTagValue(t *testing.T) {
	assert.Equal(t, "active", EscapeTagValue("active"))
	assert.Equal(t, "New York", EscapeTagValue("New York"))
	assert.Equal(t, `test\-user`, EscapeTagValue("test-user"))
	assert.Equal(t, `a\|b`, EscapeTagValue("a|b"))
	assert.Equal(t, `\$100`, EscapeTagValue("$100"))
	assert.Equal(t, `\{foo\}`, EscapeTagValue("{foo}"))
	assert.Equal(t, `list\.test`, EscapeTagValue("list.test"))
	assert.Equal(t, `test\-user\|admin`, EscapeTagValue("test-user|admin"))
}

func TestEscapeTextPrefix(t *testing.T) {
	assert.Equal(t, "config*", EscapeTextPrefix("config"))
	assert.Equal(t, "cli kv data*", EscapeTextPrefix("cli-kv/data"))
	assert.Equal(t, "config db settings*", EscapeTextPrefix("config/db-settings"))
	assert.Equal(t, "config db*", EscapeTextPrefix("config/db/"))
	assert.Equal(t, `user\:name*`, EscapeTextPrefix("user:name"))
	assert.Equal(t, "*", EscapeTextPrefix("-/"))
}

func TestEscapeTextContainsExactFuzzy(t *testing.T) {
	assert.Equal(t, "*hello*", EscapeTextContains("hello"))
	assert.Equal(t, `*name\@domain*`, EscapeTextContains("name@domain"))
	assert.Equal(t, `*50\%*`, EscapeTextContains("50%"))

	assert.Equal(t, `"hello world"`, EscapeTextExact("hello world"))
	assert.Equal(t, `"say \"hello\""`, EscapeTextExact(`say "hello"`))
	assert.Equal(t, `"C:\\Users"`, EscapeTextExact(`C:\Users`))

	assert.Equal(t, "%wrold%", EscapeTextFuzzy("wrold"))
	assert.Equal(t, `%test\%value%`, EscapeTextFuzzy("test%value"))

	assert.Equal(t, "dragon*", EscapeTextSearch("dragon"))
	assert.Equal(t, `user\:test*`, EscapeTextSearch("user:test"))
}

func TestFilterConditionClauses(t *testing.T) {
	assert.Equal(t, `(@owner:{test\-user})`, TagEq("owner", "test-user").QueryClause())
	assert.Equal(t, "(@status:{draft|live})", TagIn("status", "draft", "live").QueryClause())
	assert.Equal(t, "(@private:{false})", BoolEq("private", false).QueryClause())
	assert.Equal(t, "(@count:[5 +inf])", NumericGT("count", 5).QueryClause())
	assert.Equal(t, "(@count:[-inf 9.5])", NumericLT("count", 9.5).QueryClause())
	assert.Equal(t, "(@count:[3 3])", NumericEq("count", 3).QueryClause())
	assert.Equal(t, "(@path:cli kv tests data*)", TextPrefix("path", "cli-kv-tests/data").QueryClause())
	assert.Equal(t, "(@desc:*error*)", TextContains("desc", "error").QueryClause())
	assert.Equal(t, `(@name:"John Doe")`, TextExact("name", "John Doe").QueryClause())
	assert.Equal(t, "(@name:%wrold%)", TextFuzzy("name", "wrold").QueryClause())
}

func TestFilterConditionTrees(t *testing.T) {
	visibility := Or(
		BoolEq("private", false),
		TagEq("owner", "user123"),
	)
	assert.Equal(t, "((@private:{false})|(@owner:{user123}))", visibility.QueryClause())

	complex := Or(
		And(TagEq("status", "active"), NumericGT("priority", 5)),
		TagEq("owner", "user123"),
	)
	assert.Equal(t, "(((@status:{active}) (@priority:[5 +inf]))|(@owner:{user123}))", complex.QueryClause())

	assert.Equal(t, "", And().QueryClause())
	assert.Equal(t, "(@a:{b})", Or(TagEq("a", "b")).QueryClause())
}

func TestBuildQuery(t *testing.T) {
	params := NewSearchParams().
		WithCondition(TagEq("status", "active")).
		WithCondition(NumericRange("count", nil, nil))
	assert.Equal(t, "(@status:{active}) (@count:[-inf +inf])", params.BuildQuery(""))

	assert.Equal(t, "*", NewSearchParams().BuildQuery(""))
	assert.Equal(t, "(@tenant:{t1})", NewSearchParams().BuildQuery("@tenant:{t1}"))
}

func TestBuildTextQuery(t *testing.T) {
	assert.Equal(t, "", BuildTextQuery("  ", []string{"name"}))
	assert.Equal(t, "(@name:(dragon* knight*) | @desc:(dragon* knight*))",
		BuildTextQuery("dragon knight", []string{"name", "desc"}))
}

func searchDescriptor() EntityDescriptor {
	return EntityDescriptor{
		Service:    "guild",
		Collection: "guilds",
		IDField:    "guild_id",
		IndexFields: []IndexField{
			{Path: "$.visibility", FieldName: "visibility", Type: IndexTag},
			{Path: "$.active", FieldName: "active", Type: IndexTag},
			{Path: "$.member_count", FieldName: "member_count", Type: IndexNumeric, Sortable: true},
			{Path: "$.created_at_ts", FieldName: "created_at", Type: IndexNumeric, Sortable: true},
			{Path: "$.path", FieldName: "path", Type: IndexText},
		},
		AllowedSorts: []SortField{
			{Name: "created_at", Path: "created_at_ts", DefaultOrder: SortDesc},
			{Name: "member_count", Path: "member_count", DefaultOrder: SortAsc},
		},
		TextSearchFields: []string{"path"},
	}
}

func TestSearchQueryCompile(t *testing.T) {
	descriptor := searchDescriptor()

	query := SearchQuery{
		SortBy: "created_at",
		Filter: []string{
			"visibility:eq:public",
			"member_count:range:5,10",
			"active:bool:true",
		},
	}
	params, err := query.Compile(&descriptor)
	require.NoError(t, err)

	assert.Equal(t, 1, params.Page)
	assert.Equal(t, 25, params.PageSize)
	require.NotNil(t, params.Sort)
	assert.Equal(t, "created_at_ts", params.Sort.Field)
	assert.Equal(t, SortDesc, params.Sort.Order)

	built := params.BuildQuery("")
	assert.Equal(t, "(@visibility:{public}) (@member_count:[5 10]) (@active:{true})", built)
}

func TestSearchQueryCompilePrefixTokenization(t *testing.T) {
	descriptor := searchDescriptor()

	query := SearchQuery{Filter: []string{"path:prefix:cli-kv-tests/data"}}
	params, err := query.Compile(&descriptor)
	require.NoError(t, err)
	assert.Equal(t, "(@path:cli kv tests data*)", params.BuildQuery(""))

	// No NOT-operator reading of '-' inside the value.
	query = SearchQuery{Filter: []string{"path:prefix:cli-kv-tests"}}
	params, err = query.Compile(&descriptor)
	require.NoError(t, err)
	assert.Equal(t, "(@path:cli kv tests*)", params.BuildQuery(""))
}

func TestSearchQueryCompileRejects(t *testing.T) {
	descriptor := searchDescriptor()

	_, err := SearchQuery{SortBy: "nope"}.Compile(&descriptor)
	assert.ErrorIs(t, err, &InvalidRequestError{})

	_, err = SearchQuery{Filter: []string{"bad"}}.Compile(&descriptor)
	assert.ErrorIs(t, err, &InvalidRequestError{})

	_, err = SearchQuery{Filter: []string{"visibility:almost:public"}}.Compile(&descriptor)
	assert.ErrorIs(t, err, &InvalidRequestError{})

	_, err = SearchQuery{Filter: []string{"unknown:eq:x"}}.Compile(&descriptor)
	assert.ErrorIs(t, err, &InvalidRequestError{})

	_, err = SearchQuery{Filter: []string{"member_count:prefix:x"}}.Compile(&descriptor)
	assert.ErrorIs(t, err, &InvalidRequestError{})
}

func TestSearchQueryCompilePageClamps(t *testing.T) {
	descriptor := searchDescriptor()

	params, err := SearchQuery{Page: 0, PageSize: 500}.Compile(&descriptor)
	require.NoError(t, err)
	assert.Equal(t, 1, params.Page)
	assert.Equal(t, 100, params.PageSize)

	params, err = SearchQuery{Page: 3, PageSize: 10}.Compile(&descriptor)
	require.NoError(t, err)
	assert.Equal(t, 20, params.Offset())
}

func TestSearchQueryCompileFreeText(t *testing.T) {
	descriptor := searchDescriptor()

	params, err := SearchQuery{Q: "dragon knight"}.Compile(&descriptor)
	require.NoError(t, err)
	assert.Equal(t, "(@path:(dragon* knight*))", params.TextQuery)
}

func TestParseSearchReplyFlatArray(t *testing.T) {
	raw := []any{
		int64(2),
		"snug:guild:guilds:g1",
		[]any{"$", `[{"guild_id":"g1"}]`},
		"snug:guild:guilds:g2",
		[]any{"$", `{"guild_id":"g2"}`},
	}
	total, payloads, err := parseSearchReply(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, payloads, 2)
	assert.JSONEq(t, `{"guild_id":"g1"}`, payloads[0])
	assert.JSONEq(t, `{"guild_id":"g2"}`, payloads[1])
}

func TestParseSearchReplyMap(t *testing.T) {
	raw := map[any]any{
		"total_results": int64(1),
		"results": []any{
			map[any]any{
				"id":               "snug:guild:guilds:g1",
				"extra_attributes": map[any]any{"$": `[{"guild_id":"g1"}]`},
			},
		},
	}
	total, payloads, err := parseSearchReply(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, payloads, 1)
	assert.JSONEq(t, `{"guild_id":"g1"}`, payloads[0])
}

func TestSearchResultHasMore(t *testing.T) {
	result := SearchResult[struct{}]{Total: 30, Page: 1, PageSize: 25}
	assert.True(t, result.HasMore())
	result.Page = 2
	assert.False(t, result.HasMore())
}
