package nutrition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/generation"
	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/metrics"
)

// DayArchive is the subset of store.DayStore that Pipeline requires.
type DayArchive interface {
	Create(ctx context.Context, day *domain.DayRecord) (*domain.DayRecord, error)
}

// Pipeline runs every generation-backed operation against a Session.
type Pipeline struct {
	connector   generation.Connector
	archive     DayArchive
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewPipeline creates a Pipeline. archive may be nil, in which case closed days
// are not kept. concurrency bounds parallel per-image calls; values below 1
// mean sequential.
func NewPipeline(connector generation.Connector, archive DayArchive, concurrency int, logger *slog.Logger) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		connector:   connector,
		archive:     archive,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// SupplyCredential connects a client for s. On failure the session keeps
// whatever client it had before.
func (p *Pipeline) SupplyCredential(ctx context.Context, s *Session, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true

	client, err := p.connector.Connect(ctx, credential)
	if err != nil {
		p.logger.Warn("credential rejected", "session_id", s.ID, "backend", p.connector.Name(), logging.ErrAttr(err))
		if errors.Is(err, domain.ErrAuth) {
			return err
		}
		return domain.Auth(err)
	}
	s.client = client
	p.logger.Info("credential accepted", "session_id", s.ID, "backend", p.connector.Name())
	return nil
}

// generateLocked issues one call with the session's client. A credential the
// backend rejects is dropped so the session asks for a new one. s.mu must be
// held.
func (p *Pipeline) generateLocked(ctx context.Context, s *Session, req domain.GenerationRequest) (string, error) {
	if s.client == nil {
		return "", goerr.Wrap(domain.ErrAuth, "please provide an API key first", goerr.V("session_id", s.ID))
	}
	text, err := s.client.Generate(ctx, req)
	if err != nil {
		p.revokeOnAuth(s, err)
		return "", err
	}
	return text, nil
}

func (p *Pipeline) revokeOnAuth(s *Session, err error) {
	if errors.Is(err, domain.ErrAuth) && s.client != nil {
		s.client = nil
		p.logger.Warn("credential revoked after rejection", "session_id", s.ID)
	}
}

// MealReport is what the user sees for one analysed image.
type MealReport struct {
	Raw      string
	Analysis domain.Analysis
	Parsed   bool
	// Inserted is false for unparseable responses and for names already in
	// the ledger.
	Inserted bool
}

// MealOutcome is the result for one upload of a batch. Exactly one of Report
// and Err is set.
type MealOutcome struct {
	Index    int
	Filename string
	Report   *MealReport
	Err      error
}

// AnalyzeMeal runs the per-image analysis for a single upload.
func (p *Pipeline) AnalyzeMeal(ctx context.Context, s *Session, upload Upload) (*MealReport, error) {
	outcomes, err := p.AnalyzeMeals(ctx, s, []Upload{upload}, nil)
	if err != nil {
		return nil, err
	}
	return outcomes[0].Report, outcomes[0].Err
}

// AnalyzeMeals analyses each upload independently. A failure on one image
// never stops the others. Generation calls may run in parallel up to the
// configured concurrency, but results are applied to the ledger and reported
// to onOutcome strictly in input order. Once the backend rejects the
// credential no further image is sent. The returned error is set only when
// nothing could be attempted.
func (p *Pipeline) AnalyzeMeals(ctx context.Context, s *Session, uploads []Upload, onOutcome func(MealOutcome)) ([]MealOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, goerr.Wrap(domain.ErrInput, "no image uploaded, please try again")
	}

	p.logger.Info("meal analysis started", "session_id", s.ID, "images", len(uploads))

	client := s.client
	instruction := RenderAnalysisPrompt(s.goal)

	results := make([]MealOutcome, len(uploads))
	done := make([]chan struct{}, len(uploads))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var rejected atomic.Bool
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	go func() {
		for i, up := range uploads {
			g.Go(func() error {
				defer close(done[i])
				results[i] = analyzeOne(ctx, client, instruction, i, up, &rejected)
				return nil
			})
		}
	}()

	for i := range uploads {
		<-done[i]
		out := results[i]
		p.applyOutcome(s, &out)
		results[i] = out
		if onOutcome != nil {
			onOutcome(out)
		}
	}
	_ = g.Wait()

	p.logger.Info("meal analysis complete", "session_id", s.ID, "images", len(uploads), "ledger_size", s.ledger.Len())
	return results, nil
}

// analyzeOne runs one upload of a batch. rejected is shared by the batch: it
// is set when a call fails with ErrAuth, and later uploads are then skipped
// without calling the backend.
func analyzeOne(ctx context.Context, client generation.Client, instruction string, index int, up Upload, rejected *atomic.Bool) MealOutcome {
	out := MealOutcome{Index: index, Filename: up.Filename}

	img, err := EncodeImage(up.Data, up.MIMEType)
	if err != nil {
		out.Err = fmt.Errorf("image %d (%s): %w", index+1, up.Filename, err)
		return out
	}
	if rejected.Load() {
		out.Err = fmt.Errorf("image %d (%s): %w", index+1, up.Filename,
			goerr.Wrap(domain.ErrAuth, "skipped, the credential was rejected earlier in this batch"))
		return out
	}
	raw, err := client.Generate(ctx, domain.GenerationRequest{
		Instruction: instruction,
		Images:      []domain.ImagePart{img},
	})
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			rejected.Store(true)
		}
		out.Err = fmt.Errorf("image %d (%s): %w", index+1, up.Filename, err)
		return out
	}

	analysis, ok := ParseAnalysis(raw)
	out.Report = &MealReport{Raw: raw, Analysis: analysis, Parsed: ok}
	return out
}

// applyOutcome updates the ledger from one outcome. s.mu must be held.
func (p *Pipeline) applyOutcome(s *Session, out *MealOutcome) {
	if out.Err != nil {
		p.revokeOnAuth(s, out.Err)
		p.logger.Warn("meal analysis failed", "session_id", s.ID, "image", out.Index+1, "filename", out.Filename, logging.ErrAttr(out.Err))
		return
	}

	report := out.Report
	if !report.Parsed {
		metrics.MealsLoggedTotal.WithLabelValues("unparseable").Inc()
		p.logger.Info("meal response unparseable", "session_id", s.ID, "image", out.Index+1)
		return
	}

	report.Inserted = s.ledger.UpsertIfAbsent(report.Analysis.MealName, report.Analysis.MealSummary)
	if report.Inserted {
		metrics.MealsLoggedTotal.WithLabelValues("inserted").Inc()
		p.logger.Info("meal logged", "session_id", s.ID, "meal", report.Analysis.MealName)
		return
	}
	metrics.MealsLoggedTotal.WithLabelValues("duplicate").Inc()
	p.logger.Info("meal already logged", "session_id", s.ID, "meal", report.Analysis.MealName)
}

// SuggestHomeDishes asks for dishes to cook at home, excluding meals already
// eaten today. It works with an empty ledger.
func (p *Pipeline) SuggestHomeDishes(ctx context.Context, s *Session, dietaryPreference string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(); err != nil {
		return "", err
	}

	p.logger.Info("home dish suggestion started", "session_id", s.ID, "ledger_size", s.ledger.Len())
	prompt := RenderHomeDishesPrompt(s.goal, preference(dietaryPreference), s.ledger.ComposeDump(), s.ledger.Names())
	text, err := p.generateLocked(ctx, s, domain.GenerationRequest{Instruction: prompt})
	if err != nil {
		return "", err
	}

	s.recommendations[RecommendationHomeDishes] = text
	p.logger.Info("home dish suggestion complete", "session_id", s.ID)
	return text, nil
}

// RankMenu sends every menu page in a single call and returns the ranking.
func (p *Pipeline) RankMenu(ctx context.Context, s *Session, dietaryPreference string, menus []Upload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(); err != nil {
		return "", err
	}
	if len(menus) == 0 {
		return "", goerr.Wrap(domain.ErrInput, "please upload at least one menu image")
	}

	images := make([]domain.ImagePart, 0, len(menus))
	for i, m := range menus {
		img, err := EncodeImage(m.Data, m.MIMEType)
		if err != nil {
			return "", goerr.Wrap(err, fmt.Sprintf("menu image %d", i+1), goerr.V("filename", m.Filename))
		}
		images = append(images, img)
	}

	p.logger.Info("menu ranking started", "session_id", s.ID, "pages", len(images))
	prompt := RenderMenuRankingPrompt(s.goal, preference(dietaryPreference), s.ledger.ComposeDump())
	text, err := p.generateLocked(ctx, s, domain.GenerationRequest{Instruction: prompt, Images: images})
	if err != nil {
		return "", err
	}

	s.recommendations[RecommendationMenu] = text
	p.logger.Info("menu ranking complete", "session_id", s.ID)
	return text, nil
}

func preference(p string) string {
	if p = strings.TrimSpace(p); p == "" {
		return "no particular preference"
	}
	return p
}

type DaySectionKind string

const (
	SectionSummary    DaySectionKind = "summary"
	SectionGapFilling DaySectionKind = "gap_filling"
	SectionGutHealth  DaySectionKind = "gut_health"
)

// DaySection is one of the three close-day texts. Err is set when that
// section's call failed; the other sections are unaffected.
type DaySection struct {
	Kind  DaySectionKind
	Title string
	Text  string
	Err   error
}

// DayReport is the result of closing out a day.
type DayReport struct {
	Goal     string
	Meals    []domain.MealEntry
	Sections []DaySection
	// Cleared is false only when every section failed.
	Cleared    bool
	ArchiveID  int64
	ArchiveErr error
	ClosedAt   time.Time
}

// Section returns the section of kind k, if present.
func (r *DayReport) Section(k DaySectionKind) (DaySection, bool) {
	for _, sec := range r.Sections {
		if sec.Kind == k {
			return sec, true
		}
	}
	return DaySection{}, false
}

var daySections = []struct {
	kind   DaySectionKind
	title  string
	render func(goal, dump string) string
}{
	{SectionSummary, "Daily summary", RenderDailySummaryPrompt},
	{SectionGapFilling, "Filling the gaps", RenderGapFillingPrompt},
	{SectionGutHealth, "Gut health tip", RenderGutHealthPrompt},
}

// CloseDay produces the summary, gap-filling and gut-health sections one after
// another, reporting each to onSection as it completes. The day is then
// archived and the ledger cleared. If every section failed the ledger is kept
// so the user can try again.
func (p *Pipeline) CloseDay(ctx context.Context, s *Session, onSection func(DaySection)) (*DayReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(); err != nil {
		return nil, err
	}
	if s.ledger.IsEmpty() {
		return nil, goerr.Wrap(domain.ErrNothingLogged, "close day requested with an empty ledger", goerr.V("session_id", s.ID))
	}

	p.logger.Info("close day started", "session_id", s.ID, "meals", s.ledger.Len())

	report := &DayReport{Goal: s.goal, Meals: s.ledger.Entries()}
	dump := s.ledger.ComposeDump()
	delivered := 0
	for _, def := range daySections {
		sec := DaySection{Kind: def.kind, Title: def.title}
		sec.Text, sec.Err = p.generateLocked(ctx, s, domain.GenerationRequest{Instruction: def.render(s.goal, dump)})
		if sec.Err != nil {
			p.logger.Warn("close day section failed", "session_id", s.ID, "section", def.kind, logging.ErrAttr(sec.Err))
		} else {
			delivered++
		}
		report.Sections = append(report.Sections, sec)
		if onSection != nil {
			onSection(sec)
		}
	}

	report.ClosedAt = p.now()
	if delivered == 0 {
		p.logger.Warn("close day produced no sections, ledger kept", "session_id", s.ID)
		return report, nil
	}

	if p.archive != nil {
		rec, err := p.archive.Create(ctx, dayRecord(s.ID, report))
		if err != nil {
			report.ArchiveErr = err
			p.logger.Error("failed to archive day", "session_id", s.ID, logging.ErrAttr(err))
		} else {
			report.ArchiveID = rec.ID
		}
	}

	s.ledger.Clear()
	s.lastDay = report
	report.Cleared = true
	metrics.DaysClosedTotal.Inc()
	p.logger.Info("close day complete", "session_id", s.ID, "sections_ok", delivered, "archive_id", report.ArchiveID)
	return report, nil
}

func dayRecord(sessionID string, r *DayReport) *domain.DayRecord {
	rec := &domain.DayRecord{
		SessionID: sessionID,
		Goal:      r.Goal,
		ClosedAt:  r.ClosedAt,
	}
	for _, sec := range r.Sections {
		switch sec.Kind {
		case SectionSummary:
			rec.Summary = sec.Text
		case SectionGapFilling:
			rec.GapSuggestion = sec.Text
		case SectionGutHealth:
			rec.GutHealthTip = sec.Text
		}
	}
	for i, m := range r.Meals {
		rec.Meals = append(rec.Meals, domain.DayMeal{Position: i, Name: m.Name, Summary: m.Summary})
	}
	return rec
}

// Meals returns the session's ledger entries in insertion order.
func (p *Pipeline) Meals(s *Session) []domain.MealEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Entries()
}
