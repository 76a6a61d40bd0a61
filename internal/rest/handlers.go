package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openminutes/openminutes/internal/extract"
	"github.com/openminutes/openminutes/internal/session"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/taskflow"
	"github.com/openminutes/openminutes/pkg/types"
)

// processTimeout bounds one scheduled extraction run end to end.
const processTimeout = 10 * time.Minute

func (s *Server) getMeetings(c *gin.Context) {
	meetings, err := s.deps.Store.GetMeetings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meetings": meetings,
		"total":    len(meetings),
	})
}

func (s *Server) getMeeting(c *gin.Context) {
	detail, err := s.deps.Store.GetMeeting(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) deleteMeeting(c *gin.Context) {
	err := s.deps.Store.DeleteMeeting(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// getSummary answers both meeting ids and process ids: a scheduled run is
// polled here until it completes or fails.
func (s *Server) getSummary(c *gin.Context) {
	id := c.Param("id")

	if p, ok := s.procs.get(id); ok {
		status, doc, tasks, errMsg := p.snapshot()
		switch status {
		case statusProcessing:
			c.JSON(http.StatusOK, gin.H{"status": "processing"})
		case statusError:
			c.JSON(http.StatusOK, gin.H{"status": "error", "error": errMsg})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "completed", "data": doc, "tasks": tasks})
		}
		return
	}

	doc, err := s.deps.Store.GetSummary(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"status": "completed", "data": doc})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	// No summary yet: a known meeting is still processing, anything else is
	// an unknown id.
	if _, err := s.deps.Store.GetMeeting(c.Request.Context(), id); err == nil {
		c.JSON(http.StatusOK, gin.H{"status": "processing"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "unknown meeting or process id"})
}

type transcriptSegment struct {
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

type saveTranscriptRequest struct {
	MeetingID  string              `json:"meeting_id"`
	Title      string              `json:"title"`
	Platform   string              `json:"platform"`
	Transcript []transcriptSegment `json:"transcript" binding:"required"`
}

func (s *Server) saveTranscript(c *gin.Context) {
	var req saveTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := req.MeetingID
	if id == "" {
		id = newMeetingID()
	}
	ctx := c.Request.Context()

	err := s.deps.Store.UpsertMeeting(ctx, &types.Meeting{
		ID:       id,
		Title:    req.Title,
		Platform: types.MeetingPlatform(req.Platform).Normalize(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	saved := 0
	for _, seg := range req.Transcript {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		ts := seg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		_, dup, err := s.deps.Store.AppendTranscriptChunk(ctx, &types.TranscriptChunk{
			MeetingID:   id,
			Text:        text,
			Timestamp:   ts,
			Speaker:     seg.Speaker,
			Confidence:  seg.Confidence,
			Fingerprint: session.Fingerprint(text, ts),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !dup {
			saved++
		}
	}

	c.JSON(http.StatusOK, gin.H{"meeting_id": id, "chunks_saved": saved})
}

// newMeetingID mints a meeting id for transcripts uploaded outside a live
// session, matching the length of gateway-derived ids.
func newMeetingID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

type processTranscriptRequest struct {
	MeetingID string `json:"meeting_id" binding:"required"`
}

func (s *Server) processTranscript(c *gin.Context) {
	var req processTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	detail, err := s.deps.Store.GetMeeting(c.Request.Context(), req.MeetingID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	id, p := s.procs.begin(req.MeetingID)
	go s.runExtraction(p, req.MeetingID, extract.FlattenTranscript(detail.Transcript))

	c.JSON(http.StatusOK, gin.H{"process_id": id})
}

// runExtraction executes one scheduled extraction run to completion.
func (s *Server) runExtraction(p *process, meetingID, transcript string) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	summary, err := s.deps.Extractor.Summarize(ctx, transcript)
	if err != nil {
		p.fail(err)
		return
	}
	tasks, err := s.deps.Extractor.ExtractTasks(ctx, transcript)
	if err != nil {
		p.fail(err)
		return
	}
	saved, err := s.deps.Projector.MaterializeAndDispatch(ctx, meetingID, summary.Document, tasks.Tasks)
	if err != nil {
		p.fail(err)
		return
	}

	p.complete(summary.Document, saved)
	slog.Info("scheduled extraction finished", "meeting_id", meetingID, "tasks", len(saved))
}

// textRequest feeds the synchronous extraction endpoints: either raw text or
// a stored meeting's transcript.
type textRequest struct {
	Text      string `json:"text"`
	MeetingID string `json:"meeting_id"`
	Context   string `json:"context"`
}

// resolveText loads the transcript for a textRequest.
func (s *Server) resolveText(c *gin.Context, req textRequest) (string, bool) {
	if req.MeetingID == "" {
		return req.Text, true
	}
	detail, err := s.deps.Store.GetMeeting(c.Request.Context(), req.MeetingID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return "", false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", false
	}
	return extract.FlattenTranscript(detail.Transcript), true
}

func (s *Server) identifySpeakers(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text, ok := s.resolveText(c, req)
	if !ok {
		return
	}

	res, err := s.deps.Extractor.IdentifySpeakers(c.Request.Context(), text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"speakers":              res.Speakers,
		"identification_method": res.Method,
		"confidence":            maxSpeakerConfidence(res.Speakers),
	})
}

func maxSpeakerConfidence(speakers []types.Speaker) float64 {
	best := 0.0
	for _, sp := range speakers {
		if sp.Confidence > best {
			best = sp.Confidence
		}
	}
	return best
}

func (s *Server) generateSummary(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text, ok := s.resolveText(c, req)
	if !ok {
		return
	}

	res, err := s.deps.Extractor.Summarize(c.Request.Context(), text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":       res.Document,
		"fallback_used": res.FallbackUsed,
		"chunked":       res.Chunked,
	})
}

func (s *Server) extractTasks(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text, ok := s.resolveText(c, req)
	if !ok {
		return
	}

	res, err := s.deps.Extractor.ExtractTasks(c.Request.Context(), text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks":         res.Tasks,
		"fallback_used": res.FallbackUsed,
	})
}

// processWithTools runs the whole extraction pipeline synchronously and, when
// the text comes from a stored meeting, persists and dispatches the results.
func (s *Server) processWithTools(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text, ok := s.resolveText(c, req)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	speakers, err := s.deps.Extractor.IdentifySpeakers(ctx, text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summary, err := s.deps.Extractor.Summarize(ctx, text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tasks, err := s.deps.Extractor.ExtractTasks(ctx, text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	outTasks := tasks.Tasks
	dispatched := false
	if req.MeetingID != "" {
		outTasks, err = s.deps.Projector.MaterializeAndDispatch(ctx, req.MeetingID, summary.Document, tasks.Tasks)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		dispatched = true
	}

	c.JSON(http.StatusOK, gin.H{
		"speakers":      speakers.Speakers,
		"summary":       summary.Document,
		"tasks":         outTasks,
		"dispatched":    dispatched,
		"fallback_used": summary.FallbackUsed || tasks.FallbackUsed || speakers.Method == extract.MethodFallback,
	})
}

type comprehensiveRequest struct {
	MeetingID string `json:"meeting_id" binding:"required"`
}

// extractTasksComprehensive persists the full task records and returns both
// those records and the exact projections sent to integrations.
func (s *Server) extractTasksComprehensive(c *gin.Context) {
	var req comprehensiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	detail, err := s.deps.Store.GetMeeting(ctx, req.MeetingID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	res, err := s.deps.Extractor.ExtractTasks(ctx, extract.FlattenTranscript(detail.Transcript))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	saved, err := s.deps.Projector.MaterializeAndDispatch(ctx, req.MeetingID, nil, res.Tasks)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("persist tasks: %v", err)})
		return
	}

	projections := make([]gin.H, 0, len(saved))
	for _, t := range saved {
		proj := taskflow.Project(t)
		projections = append(projections, gin.H{
			"task_id":     t.ID,
			"title":       proj.Title,
			"description": proj.Description,
			"assignee":    proj.Assignee,
			"priority":    proj.Priority,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":         saved,
		"projections":   projections,
		"fallback_used": res.FallbackUsed,
	})
}

// availableTools lists the integration adapters and the projection schema
// they accept.
func (s *Server) availableTools(c *gin.Context) {
	tools := make([]gin.H, 0, len(s.deps.Integrations))
	for _, client := range s.deps.Integrations {
		tools = append(tools, gin.H{
			"name":    client.Platform(),
			"enabled": client.Enabled(),
			"input_schema": gin.H{
				"title":       "string",
				"description": "string",
				"assignee":    "string",
				"priority":    "string",
			},
			"output_schema": gin.H{
				"external_id":  "string",
				"external_url": "string",
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}
