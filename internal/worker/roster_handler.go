package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
)

// RosterTaskHandler 生成代理的学生花名册 PDF。
type RosterTaskHandler struct {
	deps Deps
}

// NewRosterTaskHandler 创建花名册任务处理器。
func NewRosterTaskHandler(deps Deps) *RosterTaskHandler {
	return &RosterTaskHandler{deps: deps}
}

// ProcessTask 实现 asynq.Handler。
func (h *RosterTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.deps.logger()

	var payload tasks.RosterPayload
	if err := decodePayload(t, &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}
	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("agent_profile_id", uint64(payload.AgentProfileID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)

	notify := NotifyMessage{Type: NotifyRoster, ResourceID: payload.AgentProfileID, CorrelationID: payload.CorrelationID}
	defer func() {
		notifyFailure(ctx, h.deps, log, payload.UserID, notify, retErr)
	}()

	data, err := h.buildRoster(ctx, payload.AgentProfileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("agent profile not found, skipping task")
			return nil
		}
		log.Error("build roster failed", slog.Any("error", err))
		return err
	}

	var buf bytes.Buffer
	if err := h.deps.Renderer.Roster(&buf, data); err != nil {
		log.Error("render roster failed", slog.Any("error", err))
		return err
	}
	pdfBytes, err := h.deps.PDF.FromHTML(ctx, buf.String())
	if err != nil {
		log.Error("generate roster pdf failed", slog.Any("error", err))
		return err
	}

	key := storage.RosterKey(payload.AgentProfileID)
	if _, err := h.deps.Storage.UploadFile(ctx, key, bytes.NewReader(pdfBytes), int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload roster failed", slog.Any("error", err))
		return err
	}

	notify.DownloadURL, err = h.deps.Storage.GeneratePresignedURLWithParams(ctx, key, downloadTTL, map[string]string{
		"response-content-disposition": `attachment; filename="students.pdf"`,
	})
	if err != nil {
		log.Error("presign roster failed", slog.Any("error", err))
		return err
	}
	if err := notifyDone(ctx, h.deps, payload.UserID, notify); err != nil {
		log.Error("publish roster notification failed", slog.Any("error", err))
		return err
	}

	log.Info("roster task completed", slog.Int("students", len(data.Students)))
	return nil
}

func (h *RosterTaskHandler) buildRoster(ctx context.Context, agentProfileID uint) (render.RosterData, error) {
	db := h.deps.DB.WithContext(ctx)

	var agent database.Profile
	if err := db.First(&agent, agentProfileID).Error; err != nil {
		return render.RosterData{}, err
	}
	name := agent.FullName()
	if name == "" {
		var user database.User
		if err := db.First(&user, agent.UserID).Error; err != nil {
			return render.RosterData{}, fmt.Errorf("load agent user: %w", err)
		}
		name = user.Username
	}

	var invitations []database.StudentInvitation
	if err := db.Where("agent_profile_id = ?", agentProfileID).Order("created_at DESC").Find(&invitations).Error; err != nil {
		return render.RosterData{}, fmt.Errorf("query invitations: %w", err)
	}

	rows := make([]render.RosterRow, 0, len(invitations))
	for _, inv := range invitations {
		status, err := database.StudentProfileStatus(ctx, h.deps.DB, inv.StudentUserID)
		if err != nil {
			return render.RosterData{}, err
		}
		rows = append(rows, render.RosterRow{
			Name:          inv.StudentFirstName + " " + inv.StudentLastName,
			Email:         inv.StudentEmail,
			Status:        inv.Status,
			InvitedOn:     inv.CreatedAt,
			ProfileStatus: status,
		})
	}
	return render.RosterData{AgentName: name, GeneratedAt: time.Now(), Students: rows}, nil
}
