// Package web has a web based interface to draw or upload images for classification and to
// train the network and view its progress.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

//go:embed assets/*.html
var assets embed.FS

const sessionName = "mnistlab-session"

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu    []Link
	Options []Link
	Heading template.HTML
	Flashes []string
	store   sessions.Store
}

type Link struct {
	Url      string
	Name     string
	Selected bool
	Submit   bool
}

// Load and parse templates and initialise main menu. The session store used for flash
// messages is keyed with a random key so messages do not survive a restart.
func NewTemplates() (*Templates, error) {
	var err error
	t := &Templates{}
	funcs := template.FuncMap{
		"pct": func(v float64) string { return fmt.Sprintf("%.2f%%", 100*v) },
	}
	t.Template, err = template.New("").Funcs(funcs).ParseFS(assets, "assets/*.html")
	if err != nil {
		return nil, err
	}
	t.store = sessions.NewCookieStore(securecookie.GenerateRandomKey(32))
	t.AddMenuItem(Link{Name: "predict", Url: "/predict"})
	t.AddMenuItem(Link{Name: "train", Url: "/train"})
	t.AddMenuItem(Link{Name: "images", Url: "/images"})
	t.AddMenuItem(Link{Name: "config", Url: "/config"})
	return t, nil
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
		Options:  append([]Link{}, t.Options...),
		store:    t.store,
	}
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(key.Url, url)
	}
	return t
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

// Flash saves a message in the session to be shown on the next page view
func (t *Templates) Flash(w http.ResponseWriter, r *http.Request, msg string) {
	session, err := t.store.Get(r, sessionName)
	if err != nil {
		log.Println("flash: invalid session:", err)
	}
	session.AddFlash(msg)
	if err = session.Save(r, w); err != nil {
		log.Println("flash: error saving session:", err)
	}
}

// Exec loads any flash messages and executes the named template with the given data.
func (t *Templates) Exec(w http.ResponseWriter, r *http.Request, name string, data interface{}) {
	t.Flashes = t.Flashes[:0]
	if session, err := t.store.Get(r, sessionName); err == nil {
		for _, f := range session.Flashes() {
			t.Flashes = append(t.Flashes, fmt.Sprint(f))
		}
		if len(t.Flashes) > 0 {
			session.Save(r, w)
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		log.Println("template error:", err)
	}
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
