// Package web はサーバーサイドで描画するHTMLテンプレートと静的ファイルを提供する。
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/moodie/internal/journal"
	"github.com/hitoshi/moodie/internal/model"
)

//go:embed templates static
var assets embed.FS

// DefaultAvatar はプロフィール画像が未設定の場合に表示する画像。
const DefaultAvatar = "/static/profile.svg"

// ページテンプレート名
const (
	PageHome     = "home"
	PageChat     = "chat"
	PageScan     = "scan"
	PageJournal  = "journal"
	PageProfile  = "profile"
	PageNotFound = "not_found"
)

var pageNames = []string{PageHome, PageChat, PageScan, PageJournal, PageProfile, PageNotFound}

// Sanitizer はバックエンドが生成したテキストを表示用HTMLに変換する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Renderer はレイアウトと各ページのテンプレートを保持し、HTMLを描画する。
type Renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// NewRenderer は埋め込みテンプレートをパースしてRendererを生成する。
func NewRenderer(sanitizer Sanitizer, logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := template.New("layout.html").Funcs(funcMap(sanitizer)).ParseFS(assets, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone layout for %s: %w", name, err)
		}
		if _, err := t.ParseFS(assets, "templates/pages/"+name+".html"); err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", name, err)
		}
		pages[name] = t
	}

	return &Renderer{pages: pages, logger: logger}, nil
}

// Render はページを描画してステータスコードとともに書き込む。
// テンプレートの実行はバッファに対して行い、失敗時は500を返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data *Page) {
	t, ok := r.pages[page]
	if !ok {
		r.logger.Error("unknown page template", slog.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		r.logger.Error("failed to render page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// StaticHandler は埋め込み静的ファイルを/static/配下で配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

func funcMap(sanitizer Sanitizer) template.FuncMap {
	return template.FuncMap{
		"richtext": func(s string) template.HTML {
			// サニタイズ済みの出力のみをHTMLとして扱う
			return template.HTML(sanitizer.Sanitize(s))
		},
		"imageSrc":  ImageSrc,
		"localPath": LocalPath,
		"avatar": func(u *model.User) template.URL {
			if u == nil {
				return template.URL(DefaultAvatar)
			}
			return ImageSrc(u.ProfilePicture)
		},
		"moodClass": journal.MoodClass,
		"deref":     model.Deref,
		"formatMillis": func(ms int64) string {
			if ms <= 0 {
				return ""
			}
			return time.UnixMilli(ms).UTC().Format("Jan 2, 2006 15:04")
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("15:04")
		},
	}
}

// ImageSrc は画像のsrc属性に使える値を返す。
// data:image/ とhttp(s)のみ許可し、それ以外は既定のアバター画像を返す。
func ImageSrc(src *string) template.URL {
	s := model.Deref(src, "")
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "data:image/"),
		strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "http://"):
		return template.URL(s)
	default:
		return template.URL(DefaultAvatar)
	}
}
