package web

import (
	"strings"

	"github.com/hitoshi/moodie/internal/model"
)

// Page はレイアウトに渡す描画データ。Contentにページ固有のデータを入れる。
type Page struct {
	Title         string
	Path          string
	Nav           []NavItem
	Authenticated bool
	User          *model.User
	CSRFToken     string
	Today         string

	// ShowLogin はログイン要求オーバーレイを表示する。
	ShowLogin bool
	// Restricted は未認証で保護ページにアクセスした状態。ページ本体は描画しない。
	Restricted bool

	// AuthError はログイン・ログアウト失敗時にシェルへ表示するメッセージ。
	AuthError string

	Content any
}

// NavItem は下部ナビゲーションの項目。
type NavItem struct {
	Name   string
	Href   string
	Icon   string
	Active bool
}

type navEntry struct {
	name      string
	path      string
	icon      string
	protected bool
}

var navEntries = []navEntry{
	{"Home", "/", "⌂", false},
	{"Chat", "/chat", "✉", true},
	{"Scan", "/scan", "◎", true},
	{"Journal", "/journal", "✎", true},
	{"Profile", "/profile", "☺", true},
}

// IsProtected はパスがログイン必須のページかどうかを判定する。
func IsProtected(path string) bool {
	for _, e := range navEntries {
		if e.protected && (path == e.path || len(path) > len(e.path) && path[:len(e.path)+1] == e.path+"/") {
			return true
		}
	}
	return false
}

// BuildNav は現在のパスと認証状態からナビゲーション項目を組み立てる。
// 未認証の場合、保護ページへのリンクは現在のパスに ?prompt=login を付けたものになり、
// 画面遷移せずにログイン要求オーバーレイを表示する。
func BuildNav(currentPath string, authenticated bool) []NavItem {
	base := LocalPath(currentPath)
	items := make([]NavItem, 0, len(navEntries))
	for _, e := range navEntries {
		href := e.path
		if e.protected && !authenticated {
			href = base + "?prompt=login"
		}
		items = append(items, NavItem{
			Name:   e.name,
			Href:   href,
			Icon:   e.icon,
			Active: currentPath == e.path,
		})
	}
	return items
}

// LocalPath はリンク先に使えるサイト内の絶対パスを返す。
// "//host" や "/\host" のように別ホストを指しうる値と空文字は "/" になる。
func LocalPath(path string) string {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
		return "/"
	}
	return path
}
