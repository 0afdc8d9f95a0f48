package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/hibiken/asynq"

	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
	"portfolioPro/internal/errcode"
	"portfolioPro/internal/mail"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
)

type fakePDF struct {
	mu    sync.Mutex
	htmls []string
	err   error
}

func (f *fakePDF) FromHTML(_ context.Context, html string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.htmls = append(f.htmls, html)
	return []byte("%PDF-1.4 fake"), nil
}

func (f *fakePDF) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.htmls) == 0 {
		return ""
	}
	return f.htmls[len(f.htmls)-1]
}

type recordingNotifier struct {
	mu       sync.Mutex
	userIDs  []uint
	messages []NotifyMessage
}

func (n *recordingNotifier) Notify(_ context.Context, userID uint, msg NotifyMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userIDs = append(n.userIDs, userID)
	n.messages = append(n.messages, msg)
	return nil
}

type testEnv struct {
	deps     Deps
	store    *storage.MemoryStore
	pdf      *fakePDF
	mail     *mail.LogSender
	notifier *recordingNotifier
}

func newEnv(t *testing.T) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := testEnv{
		store:    storage.NewMemoryStore(""),
		pdf:      &fakePDF{},
		mail:     mail.NewLogSender(logger),
		notifier: &recordingNotifier{},
	}
	env.deps = Deps{
		DB:       dbtest.Open(t),
		Storage:  env.store,
		PDF:      env.pdf,
		Renderer: render.MustNew(),
		Mail:     env.mail,
		Notifier: env.notifier,
		Logger:   logger,
	}
	return env
}

func task(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(typ, data)
}

func TestEmailTaskHandler(t *testing.T) {
	env := newEnv(t)
	h := NewEmailTaskHandler(env.deps)

	err := h.ProcessTask(context.Background(), task(t, tasks.TypeEmailSend, tasks.EmailPayload{
		To: "a@example.com", ToName: "A", Subject: "Hello", Text: "body",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	sent := env.mail.Sent()
	if len(sent) != 1 || sent[0].To[0].Address != "a@example.com" || sent[0].Subject != "Hello" {
		t.Fatalf("unexpected sent mail: %+v", sent)
	}

	err = h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeEmailSend, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad payload, got %v", err)
	}
}

func TestInvoiceTaskHandler_GeneratesAndEmails(t *testing.T) {
	env := newEnv(t)
	db := env.deps.DB
	user, _ := dbtest.SeedUser(t, db, "payer", database.UserTypeNormal)
	payment := database.Payment{UserID: user.ID, OrderID: "order_1", PaymentID: "pay_1", Amount: 149900}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	h := NewInvoiceTaskHandler(env.deps)
	err := h.ProcessTask(context.Background(), task(t, tasks.TypeInvoiceGenerate, tasks.InvoicePayload{
		PaymentID: payment.ID, Email: true, CorrelationID: "cid-1",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	var reloaded database.Payment
	if err := db.First(&reloaded, payment.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.InvoiceKey != storage.InvoiceKey(user.ID, payment.ID) || !env.store.Has(reloaded.InvoiceKey) {
		t.Fatalf("invoice not stored: %q", reloaded.InvoiceKey)
	}
	if reloaded.InvoiceEmailedAt == nil {
		t.Fatalf("expected invoice_emailed_at to be set")
	}
	if !strings.Contains(env.pdf.last(), reloaded.InvoiceNumber()) {
		t.Fatalf("rendered invoice lacks number %s", reloaded.InvoiceNumber())
	}

	sent := env.mail.Sent()
	if len(sent) != 1 || len(sent[0].Attachments) != 1 || sent[0].Attachments[0].ContentType != "application/pdf" {
		t.Fatalf("unexpected mail: %+v", sent)
	}
	if len(env.notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(env.notifier.messages))
	}
	msg := env.notifier.messages[0]
	if msg.Status != StatusCompleted || msg.Type != NotifyInvoice || msg.DownloadURL == "" || msg.CorrelationID != "cid-1" {
		t.Fatalf("unexpected notification: %+v", msg)
	}

	// 再次发送复用已存储的发票，不重新渲染。
	renders := len(env.pdf.htmls)
	err = h.ProcessTask(context.Background(), task(t, tasks.TypeInvoiceGenerate, tasks.InvoicePayload{PaymentID: payment.ID, Email: true}))
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if len(env.pdf.htmls) != renders {
		t.Fatalf("expected stored invoice to be reused")
	}
	if len(env.mail.Sent()) != 2 {
		t.Fatalf("expected second email")
	}
}

func TestInvoiceTaskHandler_MissingPaymentSkips(t *testing.T) {
	env := newEnv(t)
	h := NewInvoiceTaskHandler(env.deps)
	if err := h.ProcessTask(context.Background(), task(t, tasks.TypeInvoiceGenerate, tasks.InvoicePayload{PaymentID: 999})); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(env.notifier.messages) != 0 {
		t.Fatalf("unexpected notification")
	}
}

func seedPortfolio(t *testing.T, env testEnv, paid bool) (database.User, database.Profile, database.Portfolio) {
	t.Helper()
	db := env.deps.DB
	user, profile := dbtest.SeedUser(t, db, "pdfuser", database.UserTypeNormal)
	dbtest.CompletePersonalInfo(t, db, &profile)
	p := database.Portfolio{UserID: user.ID, ProfileID: profile.ID, Slug: "pdfuser-john-doe", Status: database.PortfolioCompleted}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create portfolio: %v", err)
	}
	if paid {
		if err := db.Model(&p).UpdateColumn("is_paid", true).Error; err != nil {
			t.Fatalf("mark paid: %v", err)
		}
	}
	if err := db.Create(&database.Summary{PortfolioID: p.ID, Content: "Backend engineer who enjoys building reliable services."}).Error; err != nil {
		t.Fatalf("create summary: %v", err)
	}
	return user, profile, p
}

func TestPortfolioPDFTaskHandler_UnpaidIsSkipped(t *testing.T) {
	env := newEnv(t)
	user, _, p := seedPortfolio(t, env, false)

	h := NewPortfolioPDFTaskHandler(env.deps)
	if err := h.ProcessTask(context.Background(), task(t, tasks.TypePortfolioPDF, tasks.PortfolioPDFPayload{PortfolioID: p.ID})); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(env.pdf.htmls) != 0 {
		t.Fatalf("unpaid portfolio must not be rendered")
	}
	if len(env.notifier.messages) != 1 || env.notifier.messages[0].ErrorCode != errcode.NotPaid || env.notifier.userIDs[0] != user.ID {
		t.Fatalf("unexpected notifications: %+v", env.notifier.messages)
	}
}

func TestPortfolioPDFTaskHandler_InlinesPhoto(t *testing.T) {
	env := newEnv(t)
	user, profile, p := seedPortfolio(t, env, true)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	key := storage.ProfilePhotoKey(user.ID, ".png")
	if _, err := env.store.UploadFile(context.Background(), key, bytes.NewReader(png), int64(len(png)), "image/png"); err != nil {
		t.Fatalf("upload photo: %v", err)
	}
	if err := env.deps.DB.Model(&profile).Update("profile_photo_key", key).Error; err != nil {
		t.Fatalf("set photo: %v", err)
	}

	h := NewPortfolioPDFTaskHandler(env.deps)
	if err := h.ProcessTask(context.Background(), task(t, tasks.TypePortfolioPDF, tasks.PortfolioPDFPayload{PortfolioID: p.ID})); err != nil {
		t.Fatalf("process: %v", err)
	}

	html := env.pdf.last()
	if !strings.Contains(html, "data:image/png;base64,") {
		t.Fatalf("photo not inlined")
	}
	if !strings.Contains(html, "reliable services") {
		t.Fatalf("summary missing from rendered html")
	}

	var reloaded database.Portfolio
	env.deps.DB.First(&reloaded, p.ID)
	if reloaded.PDFKey != storage.PortfolioPDFKey(user.ID, p.ID) || !env.store.Has(reloaded.PDFKey) {
		t.Fatalf("pdf not stored: %q", reloaded.PDFKey)
	}
	msg := env.notifier.messages[len(env.notifier.messages)-1]
	if msg.Status != StatusCompleted || msg.ErrorCode != errcode.OK || msg.DownloadURL == "" {
		t.Fatalf("unexpected notification: %+v", msg)
	}
}

func TestPortfolioPDFTaskHandler_MissingPhotoWarns(t *testing.T) {
	env := newEnv(t)
	_, profile, p := seedPortfolio(t, env, true)
	if err := env.deps.DB.Model(&profile).Update("profile_photo_key", "profile-photos/1/gone.png").Error; err != nil {
		t.Fatalf("set photo: %v", err)
	}

	h := NewPortfolioPDFTaskHandler(env.deps)
	if err := h.ProcessTask(context.Background(), task(t, tasks.TypePortfolioPDF, tasks.PortfolioPDFPayload{PortfolioID: p.ID})); err != nil {
		t.Fatalf("process: %v", err)
	}
	msg := env.notifier.messages[len(env.notifier.messages)-1]
	if msg.Status != StatusCompleted || msg.ErrorCode != errcode.ResourceMissing || len(msg.MissingKeys) != 1 {
		t.Fatalf("unexpected notification: %+v", msg)
	}
}

func TestRosterTaskHandler(t *testing.T) {
	env := newEnv(t)
	db := env.deps.DB
	agentUser, agent := dbtest.SeedUser(t, db, "agent1", database.UserTypeAgent)
	studentUser, _ := dbtest.SeedUser(t, db, "stud1", database.UserTypeStudent)

	invs := []database.StudentInvitation{
		{AgentProfileID: agent.ID, StudentEmail: "pending@example.com", StudentFirstName: "Pen", StudentLastName: "Ding"},
		{AgentProfileID: agent.ID, StudentEmail: "stud1@example.com", StudentFirstName: "Stu", StudentLastName: "Dent", StudentUserID: &studentUser.ID},
	}
	if err := db.Create(&invs).Error; err != nil {
		t.Fatalf("create invitations: %v", err)
	}
	if err := db.Model(&invs[1]).Update("status", database.InvitationApproved).Error; err != nil {
		t.Fatalf("approve: %v", err)
	}

	h := NewRosterTaskHandler(env.deps)
	err := h.ProcessTask(context.Background(), task(t, tasks.TypeRosterGenerate, tasks.RosterPayload{
		AgentProfileID: agent.ID, UserID: agentUser.ID,
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	html := env.pdf.last()
	for _, want := range []string{"pending@example.com", "stud1@example.com", database.ProfileStatusNotCreated, database.ProfileStatusNotStarted, "agent1"} {
		if !strings.Contains(html, want) {
			t.Fatalf("roster html missing %q", want)
		}
	}
	if len(env.notifier.messages) != 1 || env.notifier.userIDs[0] != agentUser.ID || env.notifier.messages[0].DownloadURL == "" {
		t.Fatalf("unexpected notifications: %+v", env.notifier.messages)
	}
	objects, _ := env.store.ListObjects(context.Background(), storage.RosterPrefix+"/", 0)
	if len(objects) != 1 {
		t.Fatalf("expected one stored roster, got %d", len(objects))
	}
}
