package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

func TestSyncProjectsWithAudits(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.paged("projects", map[string]any{"Id": 1, "Name": "A"}, map[string]any{"Id": 2, "Name": "B"})
	api.summary("projects/1/audits", 10)
	api.summary("projects/2/audits")
	api.detail("projects/1/audits/10", map[string]any{"Id": 10, "Title": "Site walk"})

	eng, sink := newTestEngine(t, api, Config{})
	sel := eng.Graph().Select(StreamProjects, StreamAudits)

	bookmarks, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{Selection: sel})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, ids(sink.Records(StreamProjects)))
	audits := sink.Records(StreamAudits)
	require.Len(t, audits, 1)
	assert.Equal(t, json.Number("1"), audits[0]["ProjectId"])

	assert.Equal(t, []string{StreamProjects, StreamAudits}, bookmarkNames(bookmarks))
	for _, b := range bookmarks {
		assert.Equal(t, testNow, b.ExtractedAt)
	}
	assert.Empty(t, api.Requests("projects/1/rfi"), "unselected children are not fetched")
	assert.Empty(t, api.Requests("projects/1/hse/events"))

	projectsReq := api.Requests("projects")
	require.Len(t, projectsReq, 1)
	assert.Equal(t, "true", projectsReq[0].Query.Get("includeArchived"))
}

func TestSyncProjectsIsNeverServerFiltered(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.paged("projects", map[string]any{"Id": 1})
	api.paged("projects/1/rfi", map[string]any{"Id": 500, "Subject": "Door spec"})

	eng, sink := newTestEngine(t, api, Config{})
	st := state.State{
		StreamProjects: {Since: "2024-01-01T00:00:00"},
		StreamRFIs:     {Since: "2024-02-01T00:00:00"},
	}
	_, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{
		Selection: eng.Graph().Select(StreamProjects, StreamRFIs),
		State:     st,
	})
	require.NoError(t, err)

	assert.Empty(t, api.Requests("projects")[0].Query.Get("lastModifiedSince"))
	rfiReqs := api.Requests("projects/1/rfi")
	require.Len(t, rfiReqs, 1)
	assert.Equal(t, "2024-02-01T00:00:00", rfiReqs[0].Query.Get("lastModifiedSince"))
	assert.Equal(t, "100", rfiReqs[0].Query.Get("pageSize"), "rfis use the slow page size")

	rfis := sink.Records(StreamRFIs)
	require.Len(t, rfis, 1)
	assert.Equal(t, json.Number("1"), rfis[0]["ProjectId"])
}

func TestSyncCompaniesServerFilter(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.paged("companies", map[string]any{"Id": 3}, map[string]any{"Id": 4}, map[string]any{"Id": 5})

	eng, sink := newTestEngine(t, api, Config{PageSize: 2})
	sel := eng.Graph().Select(StreamCompanies)

	_, err := eng.SyncFuncs()[StreamCompanies](context.Background(), Request{Selection: sel})
	require.NoError(t, err)
	for _, req := range api.Requests("companies") {
		assert.Equal(t, "true", req.Query.Get("includeDeleted"))
		assert.False(t, req.Query.Has("lastModifiedSince"))
	}
	assert.Len(t, api.Requests("companies"), 2, "three rows at page size two is two pages")

	st := state.State{StreamCompanies: {Since: "2024-05-01T00:00:00"}}
	bookmarks, err := eng.SyncFuncs()[StreamCompanies](context.Background(), Request{Selection: sel, State: st})
	require.NoError(t, err)
	last := api.Requests("companies")[2]
	assert.Equal(t, "2024-05-01T00:00:00", last.Query.Get("lastModifiedSince"))
	assert.Equal(t, []string{"3", "4", "5", "3", "4", "5"}, ids(sink.Records(StreamCompanies)))
	assert.Equal(t, []tap.Bookmark{{Resource: StreamCompanies, ExtractedAt: testNow}}, bookmarks)
}

func TestSyncLocationsQueriesEachCountry(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.routes["locations"] = func(req tap.FetchRequest) (any, error) {
		country := req.Query.Get("countryId")
		return pageOf(req, []map[string]any{{"Id": country + "01"}, {"Id": country + "02"}})
	}

	eng, sink := newTestEngine(t, api, Config{})
	_, err := eng.SyncFuncs()[StreamLocations](context.Background(), Request{Selection: eng.Graph().Select(StreamLocations)})
	require.NoError(t, err)

	reqs := api.Requests("locations")
	require.Len(t, reqs, 2)
	assert.Equal(t, "1", reqs[0].Query.Get("countryId"))
	assert.Equal(t, "2", reqs[1].Query.Get("countryId"))
	assert.Equal(t, []string{"101", "102", "201", "202"}, ids(sink.Records(StreamLocations)))
}

func TestSyncPeopleProjectsCompositeKeys(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.paged("people", map[string]any{"Id": 1, "Name": "Ana"}, map[string]any{"Id": 2, "Name": "Ben"}, map[string]any{"Name": "Nobody"})
	api.paged("people/1/projects",
		map[string]any{"ProjectId": 7},
		map[string]any{"Id": 8, "Name": "Wharf"},
		map[string]any{"Name": "no project id"},
	)
	api.paged("people/2/projects")

	eng, sink := newTestEngine(t, api, Config{})
	bookmarks, err := eng.SyncFuncs()[StreamPeople](context.Background(), Request{
		Selection: eng.Graph().Select(StreamPeopleProjects),
	})
	require.NoError(t, err)

	assert.Empty(t, sink.Records(StreamPeople), "people is fetched but not selected")
	assert.Equal(t, "true", api.Requests("people")[0].Query.Get("includeDeleted"))
	assert.ElementsMatch(t, []tap.Record{
		{"Id": "1|7", "PersonId": "1", "ProjectId": "7"},
		{"Id": "1|8", "PersonId": "1", "ProjectId": "8"},
	}, sink.Records(StreamPeopleProjects))
	assert.Equal(t, []string{StreamPeopleProjects}, bookmarkNames(bookmarks))
}

func TestSyncPeopleUnfilteredWhenMembershipsNeeded(t *testing.T) {
	t.Parallel()

	people := []map[string]any{
		{"Id": 1, "Name": "Ana", "LastModified": "2024-01-10T00:00:00"},
		{"Id": 2, "Name": "Ben", "LastModified": "2024-05-20T00:00:00"},
	}
	api := newFakeAPI()
	api.routes["people"] = func(req tap.FetchRequest) (any, error) {
		since := req.Query.Get("lastModifiedSince")
		var rows []map[string]any
		for _, p := range people {
			if since == "" || p["LastModified"].(string) > since {
				rows = append(rows, p)
			}
		}
		return pageOf(req, rows)
	}
	api.paged("people/1/projects", map[string]any{"ProjectId": 9})
	api.paged("people/2/projects")

	eng, sink := newTestEngine(t, api, Config{})
	st := state.State{
		StreamPeople:         {Since: "2024-05-01T00:00:00"},
		StreamPeopleProjects: {Since: "2024-05-01T00:00:00"},
	}
	bookmarks, err := eng.SyncFuncs()[StreamPeople](context.Background(), Request{
		Selection: eng.Graph().Select(StreamPeople, StreamPeopleProjects),
		State:     st,
	})
	require.NoError(t, err)

	peopleReq := api.Requests("people")
	require.Len(t, peopleReq, 1)
	assert.Empty(t, peopleReq[0].Query.Get("lastModifiedSince"))
	assert.Equal(t, "true", peopleReq[0].Query.Get("includeDeleted"))
	assert.Len(t, api.Requests("people/1/projects"), 1)
	assert.Equal(t, []tap.Record{
		{"Id": "1|9", "PersonId": "1", "ProjectId": "9"},
	}, sink.Records(StreamPeopleProjects))
	assert.Equal(t, []string{StreamPeople, StreamPeopleProjects}, bookmarkNames(bookmarks))
}

func TestSyncPeopleServerFilteredAlone(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.paged("people", map[string]any{"Id": 2, "Name": "Ben"})

	eng, sink := newTestEngine(t, api, Config{})
	_, err := eng.SyncFuncs()[StreamPeople](context.Background(), Request{
		Selection: eng.Graph().Select(StreamPeople),
		State:     state.State{StreamPeople: {Since: "2024-05-01T00:00:00"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01T00:00:00", api.Requests("people")[0].Query.Get("lastModifiedSince"))
	assert.Equal(t, []string{"2"}, ids(sink.Records(StreamPeople)))
	assert.Empty(t, api.Requests("people/2/projects"))
}

func TestSyncCategoriesFirstEncounterOrder(t *testing.T) {
	t.Parallel()

	category := func(id string) map[string]any {
		return map[string]any{"Id": id, "Name": "cat " + id}
	}
	api := newFakeAPI()
	api.paged("projects", map[string]any{"Id": 1})
	api.summary("projects/1/hse/events", 100, 101, 102, 103)
	for i, cat := range []string{"C2", "C1", "C2", "C3"} {
		id := 100 + i
		api.detail(fmt.Sprintf("projects/1/hse/events/%d", id), map[string]any{
			"Id":          id,
			"SubCategory": map[string]any{"Id": "S" + cat, "ParentCategory": category(cat)},
		})
	}

	eng, sink := newTestEngine(t, api, Config{DetailConcurrency: 1})
	_, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{
		Selection: eng.Graph().Select(StreamCategories, StreamSubcategories),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"C2", "C1", "C3"}, ids(sink.Records(StreamCategories)))
	assert.Equal(t, []string{"SC2", "SC1", "SC3"}, ids(sink.Records(StreamSubcategories)))
	assert.Empty(t, sink.Records(StreamHSEvents))
}

func TestSyncHSEventsDedupAndTrim(t *testing.T) {
	t.Parallel()

	parent := map[string]any{"Id": 50, "Name": "Safety"}
	api := newFakeAPI()
	api.paged("projects", map[string]any{"Id": 1}, map[string]any{"Id": 2})
	api.summary("projects/1/hse/events", 100, 101)
	api.summary("projects/2/hse/events", 102)
	api.detail("projects/1/hse/events/100", map[string]any{
		"Id":          100,
		"Description": strings.Repeat("é", 600),
		"SubCategory": map[string]any{"Id": 5, "Name": "Slip", "ParentCategory": parent},
	})
	api.detail("projects/1/hse/events/101", map[string]any{
		"Id":          101,
		"ActionTaken": "Signage",
		"SubCategory": map[string]any{"Id": 5, "Name": "Slip", "ParentCategory": parent},
	})
	api.detail("projects/2/hse/events/102", map[string]any{
		"Id":          102,
		"SubCategory": map[string]any{"Id": 6, "Name": "Trip", "ParentCategory": parent},
	})

	eng, sink := newTestEngine(t, api, Config{})
	st := state.State{StreamHSEvents: {Since: "2024-04-01T00:00:00"}}
	bookmarks, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{
		Selection: eng.Graph().Select(StreamHSEvents, StreamCategories, StreamSubcategories),
		State:     st,
	})
	require.NoError(t, err)

	assert.Empty(t, sink.Records(StreamProjects))
	events := sink.Records(StreamHSEvents)
	assert.ElementsMatch(t, []string{"100", "101", "102"}, ids(events))
	for _, event := range events {
		if id, _ := tap.IDString(event["Id"]); id == "100" {
			assert.Equal(t, 500, len([]rune(event["Description"].(string))))
			assert.Equal(t, json.Number("1"), event["ProjectId"])
		}
	}
	assert.Equal(t, []string{"50"}, ids(sink.Records(StreamCategories)))
	assert.ElementsMatch(t, []string{"5", "6"}, ids(sink.Records(StreamSubcategories)))
	assert.Equal(t, "2024-04-01T00:00:00", api.Requests("projects/1/hse/events")[0].Query.Get("lastModifiedSince"))
	assert.Equal(t, []string{StreamHSEvents, StreamCategories, StreamSubcategories}, bookmarkNames(bookmarks))
}

func TestSyncAuditsClientSideFilter(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.paged("projects", map[string]any{"Id": 1})
	api.summary("projects/1/audits", 10, 11, 12, 13)
	api.detail("projects/1/audits/10", map[string]any{"Id": 10, "DateClosed": "2024-02-01T00:00:00"})
	api.detail("projects/1/audits/11", map[string]any{"Id": 11, "DateClosed": "2024-04-01T00:00:00"})
	api.detail("projects/1/audits/12", map[string]any{"Id": 12, "DateClosed": nil})
	api.detail("projects/1/audits/13", map[string]any{"Id": 13, "DateClosed": ""})

	eng, sink := newTestEngine(t, api, Config{})
	st := state.State{StreamAudits: {Since: "2024-03-01T00:00:00"}}
	_, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{
		Selection: eng.Graph().Select(StreamAudits),
		State:     st,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"11", "12", "13"}, ids(sink.Records(StreamAudits)))
	assert.False(t, api.Requests("projects/1/audits")[0].Query.Has("lastModifiedSince"))
}

func TestSyncAuditSubObjects(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.paged("projects", map[string]any{"Id": 1})
	api.summary("projects/1/audits", 10)
	api.detail("projects/1/audits/10", map[string]any{
		"Id": 10,
		"Sections": []any{
			map[string]any{
				"Id":   "s1",
				"Name": "Scaffold",
				"Questions": []any{
					map[string]any{
						"Id":       "q1",
						"Answer":   "line1\nline2",
						"Comments": []any{map[string]any{"Id": "c1", "Comment": `say "ok"`}},
					},
					"not a question",
				},
			},
			"not a section",
			map[string]any{"Id": "s2", "Questions": "not a list"},
		},
	})

	eng, sink := newTestEngine(t, api, Config{})
	bookmarks, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{
		Selection: eng.Graph().Select(StreamAudits, StreamAuditSections, StreamAuditQuestions, StreamAuditQuestionComments),
	})
	require.NoError(t, err)

	sections := sink.Records(StreamAuditSections)
	assert.Equal(t, []string{"s1", "s2"}, ids(sections))
	assert.NotContains(t, sections[0], "Questions")
	assert.Equal(t, json.Number("10"), sections[0]["AuditId"])

	questions := sink.Records(StreamAuditQuestions)
	require.Len(t, questions, 1)
	assert.Equal(t, `"line1\nline2"`, questions[0]["Answer"])
	assert.Equal(t, "s1", questions[0]["SectionId"])
	assert.Equal(t, json.Number("10"), questions[0]["AuditId"])
	assert.NotContains(t, questions[0], "Comments")

	comments := sink.Records(StreamAuditQuestionComments)
	require.Len(t, comments, 1)
	assert.Equal(t, `"say \"ok\""`, comments[0]["Comment"])
	assert.Equal(t, "q1", comments[0]["QuestionId"])
	assert.Equal(t, json.Number("10"), comments[0]["AuditId"])

	audit := sink.Records(StreamAudits)[0]
	nested := audit["Sections"].([]any)[0].(map[string]any)["Questions"].([]any)[0].(map[string]any)
	assert.Equal(t, `"line1\nline2"`, nested["Answer"], "audit record carries the trimmed answer")
	assert.Len(t, bookmarks, 4)
}

func TestSyncFailureReturnsNoBookmarks(t *testing.T) {
	t.Parallel()

	boom := errors.New("rfi endpoint down")
	api := newFakeAPI()
	api.paged("projects", map[string]any{"Id": 1}, map[string]any{"Id": 2})
	api.paged("projects/1/rfi", map[string]any{"Id": 1})
	api.fail("projects/2/rfi", boom)

	eng, _ := newTestEngine(t, api, Config{})
	bookmarks, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{
		Selection: eng.Graph().Select(StreamProjects, StreamRFIs),
	})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, bookmarks)
}

func TestSyncSinkFailurePropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("pipe closed")
	api := newFakeAPI()
	api.paged("companies", map[string]any{"Id": 1})

	eng, sink := newTestEngine(t, api, Config{})
	sink.FailWith(boom)
	_, err := eng.SyncFuncs()[StreamCompanies](context.Background(), Request{Selection: eng.Graph().Select(StreamCompanies)})
	require.ErrorIs(t, err, boom)
}

func TestSyncSkipsUnneededTree(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	eng, _ := newTestEngine(t, api, Config{})
	bookmarks, err := eng.SyncFuncs()[StreamProjects](context.Background(), Request{
		Selection: eng.Graph().Select(StreamCompanies),
	})
	require.NoError(t, err)
	assert.Nil(t, bookmarks)
	assert.Empty(t, api.Requests("projects"))
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}
