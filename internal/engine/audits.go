package engine

import (
	"context"
	"maps"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

type auditSection struct {
	rec       tap.Record
	questions []auditQuestion
}

type auditQuestion struct {
	rec      tap.Record
	comments []tap.Record
}

// syncAudits fetches the detail of every audit of a project. The audits list
// carries no modification date, so the bookmark is applied here instead of on
// the server: an audit closed before the bookmark has already been synced.
func (r *run) syncAudits(ctx context.Context, project projectRef) error {
	res := r.resource(StreamAudits)
	ids, err := r.listIDs(ctx, r.request(res, project.vars()))
	if err != nil {
		return err
	}
	since, filtered := state.GetBookmark(r.st, StreamAudits)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.cfg.DetailConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			audit, err := r.fetchDetail(gctx, res, project.vars(), id)
			if err != nil {
				return err
			}
			if filtered && closedBefore(audit, since) {
				return nil
			}
			apply(res, audit, project.foreignKey())
			return r.emitAudit(gctx, audit)
		})
	}
	return g.Wait()
}

// closedBefore reports whether the audit's DateClosed sorts before since.
// Audits without a DateClosed string are never filtered.
func closedBefore(audit tap.Record, since string) bool {
	closed, ok := audit["DateClosed"].(string)
	return ok && closed != "" && closed < since
}

// emitAudit emits the audit and then its sections, questions and comments.
// Nested answers and comments are trimmed in place first, so the audit record
// and the sub-object records carry the same values.
func (r *run) emitAudit(ctx context.Context, audit tap.Record) error {
	sections := r.prepareAudit(audit)
	if err := r.emit(ctx, StreamAudits, audit); err != nil {
		return err
	}
	auditID := audit["Id"]
	for _, section := range sections {
		sectionRec := maps.Clone(section.rec)
		delete(sectionRec, "Questions")
		sectionRec["AuditId"] = auditID
		if err := r.emitOnce(ctx, StreamAuditSections, sectionRec); err != nil {
			return err
		}
		for _, question := range section.questions {
			questionRec := maps.Clone(question.rec)
			delete(questionRec, "Comments")
			questionRec["AuditId"] = auditID
			if err := r.emitOnce(ctx, StreamAuditQuestions, questionRec); err != nil {
				return err
			}
			for _, comment := range question.comments {
				commentRec := maps.Clone(comment)
				commentRec["QuestionId"] = question.rec["Id"]
				commentRec["AuditId"] = auditID
				if err := r.emitOnce(ctx, StreamAuditQuestionComments, commentRec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// prepareAudit walks Sections[].Questions[].Comments[], tagging each question
// with its SectionId and trimming answers and comments. Elements of the wrong
// shape are logged and left untouched.
func (r *run) prepareAudit(audit tap.Record) []auditSection {
	questionRes := r.resource(StreamAuditQuestions)
	commentRes := r.resource(StreamAuditQuestionComments)
	log := r.logger.With(zap.Any("audit_id", audit["Id"]))

	rawSections, ok := asList(audit["Sections"])
	if !ok {
		log.Debug("audit sections are not a list, skipping trim")
		return nil
	}
	sections := make([]auditSection, 0, len(rawSections))
	for _, raw := range rawSections {
		section, ok := asRecord(raw)
		if !ok {
			log.Debug("audit section is not an object, skipping trim")
			continue
		}
		out := auditSection{rec: section}
		rawQuestions, ok := asList(section["Questions"])
		if !ok {
			log.Debug("section questions are not a list, skipping trim", zap.Any("section_id", section["Id"]))
		}
		for _, rawQuestion := range rawQuestions {
			question, ok := asRecord(rawQuestion)
			if !ok {
				log.Debug("question is not an object, skipping trim", zap.Any("section_id", section["Id"]))
				continue
			}
			question["SectionId"] = section["Id"]
			apply(questionRes, question)
			q := auditQuestion{rec: question}
			rawComments, ok := asList(question["Comments"])
			if !ok {
				log.Debug("question comments are not a list, skipping trim", zap.Any("question_id", question["Id"]))
			}
			for _, rawComment := range rawComments {
				comment, ok := asRecord(rawComment)
				if !ok {
					continue
				}
				apply(commentRes, comment)
				q.comments = append(q.comments, comment)
			}
			out.questions = append(out.questions, q)
		}
		sections = append(sections, out)
	}
	return sections
}
