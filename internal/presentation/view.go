package presentation

import (
	"sort"
	"strings"

	"github.com/user/buffalo/internal/db"
)

const (
	UnknownPage = "Unknown page"
	OtherType   = "other"
)

// Priority orders executions inside a group; lower sorts first.
type Priority int

const (
	PriorityError Priority = iota
	PriorityRunning
	PriorityPending
	PriorityCompleted
	PrioritySkipped
	PriorityOther
)

// TypeRank orders groups that share the same error state.
type TypeRank int

const (
	RankExploratory TypeRank = iota
	RankUserFlow
	RankPreprodChecks
	RankOther
)

func rankOf(execType string) TypeRank {
	switch execType {
	case "exploratory":
		return RankExploratory
	case "user_flow":
		return RankUserFlow
	case "preprod_checks":
		return RankPreprodChecks
	}
	return RankOther
}

// IsError reports the error class: failed, or any errorMessage whatever the
// status says.
func IsError(e *db.TestExecution) bool {
	return e.Status == db.ExecutionFailed || e.ErrorMessage != ""
}

func PriorityOf(e *db.TestExecution) Priority {
	if IsError(e) {
		return PriorityError
	}
	switch e.Status {
	case db.ExecutionRunning:
		return PriorityRunning
	case db.ExecutionPending:
		return PriorityPending
	case db.ExecutionCompleted:
		return PriorityCompleted
	case db.ExecutionSkipped:
		return PrioritySkipped
	}
	return PriorityOther
}

type Group struct {
	Type       string              `json:"type"`
	Label      string              `json:"label"`
	PageURL    string              `json:"pageUrl"`
	HasError   bool                `json:"hasError"`
	Successful bool                `json:"successful"`
	Executions []*db.TestExecution `json:"executions"`
}

type View struct {
	Session     *db.TestSession `json:"session"`
	LastMessage string          `json:"lastMessage,omitempty"`
	Waiting     bool            `json:"waiting"`
	Groups      []Group         `json:"groups"`
	Report      *db.TestReport  `json:"report,omitempty"`
}

// Build derives the display view. It copies what it sorts and leaves its
// arguments untouched.
func Build(session *db.TestSession, executions []*db.TestExecution, report *db.TestReport) View {
	v := View{
		Session: session,
		Waiting: len(executions) == 0,
		Groups:  GroupExecutions(session, executions),
		Report:  report,
	}
	if session != nil && len(session.Messages) > 0 {
		v.LastMessage = session.Messages[len(session.Messages)-1]
	}
	return v
}

// GroupExecutions groups by (type, page URL), orders members by priority then
// creation, and orders groups with errors first, then by type rank, then by
// page URL.
func GroupExecutions(session *db.TestSession, executions []*db.TestExecution) []Group {
	type key struct{ typ, page string }
	index := map[key]int{}
	groups := []Group{}

	for _, e := range executions {
		k := key{typ: e.Type, page: e.WebsiteURL}
		if k.typ == "" {
			k.typ = OtherType
		}
		if k.page == "" && session != nil {
			k.page = session.WebsiteURL
		}
		if k.page == "" {
			k.page = UnknownPage
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{
				Type:    k.typ,
				Label:   strings.ReplaceAll(k.typ, "_", " "),
				PageURL: k.page,
			})
		}
		groups[i].Executions = append(groups[i].Executions, e)
	}

	for i := range groups {
		g := &groups[i]
		sortExecutions(g.Executions)
		g.Successful = len(g.Executions) > 0
		for _, e := range g.Executions {
			if IsError(e) {
				g.HasError = true
			}
			if e.Status != db.ExecutionCompleted || IsError(e) {
				g.Successful = false
			}
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.HasError != b.HasError {
			return a.HasError
		}
		if ra, rb := rankOf(a.Type), rankOf(b.Type); ra != rb {
			return ra < rb
		}
		return a.PageURL < b.PageURL
	})
	return groups
}

func sortExecutions(list []*db.TestExecution) {
	sort.SliceStable(list, func(i, j int) bool {
		pi, pj := PriorityOf(list[i]), PriorityOf(list[j])
		if pi != pj {
			return pi < pj
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
