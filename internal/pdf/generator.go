package pdf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	pageTimeout  = 30 * time.Second
	fontsTimeout = 5 * time.Second
)

// Generator 把 HTML 打印为 PDF。
type Generator interface {
	FromHTML(ctx context.Context, html string) ([]byte, error)
}

// RodGenerator 使用 go-rod 在无头 Chromium 中渲染 HTML。
type RodGenerator struct {
	logger *slog.Logger
}

// NewRodGenerator 创建生成器。
func NewRodGenerator(logger *slog.Logger) *RodGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RodGenerator{logger: logger}
}

// FromHTML 渲染 HTML 并返回 PDF 字节。每次调用启动独立的浏览器进程。
func (g *RodGenerator) FromHTML(ctx context.Context, htmlContent string) ([]byte, error) {
	launch := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(pageTimeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(pageTimeout)
	if err := page.SetDocumentContent(htmlContent); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	// 等待字体就绪，避免回退字体导致排版差异。
	if _, err := page.Timeout(fontsTimeout).Eval(`() => {
	  if (document && document.fonts && document.fonts.ready) {
	    return Promise.race([
	      document.fonts.ready.then(() => true),
	      new Promise((resolve) => setTimeout(() => resolve(true), 3000))
	    ]);
	  }
	  return true;
	}`); err != nil {
		g.logger.Warn("document.fonts.ready wait failed, continue", slog.Any("error", err))
	}

	if err := (proto.EmulationSetEmulatedMedia{Media: "print"}).Call(page); err != nil {
		return nil, fmt.Errorf("set emulated media to print: %w", err)
	}

	reader, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}
	return data, nil
}
