package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/bondmcsteve/artificial-intelligence/plots"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gonum.org/v1/plot"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	net *Network
}

// Base data for handler functions to perform network training and display the stats
func NewTrainPage(t *Templates, net *Network) *TrainPage {
	p := &TrainPage{net: net}
	p.Templates = t.Select("/train")
	p.AddOption(Link{Name: "start", Url: "/train/start"})
	p.AddOption(Link{Name: "stop", Url: "/train/stop"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		p.net.Lock()
		defer p.net.Unlock()
		switch cmd {
		case "start":
			if err := p.net.Start(); err != nil {
				log.Println("start:", err)
				p.Flash(w, r, err.Error())
			}
			http.Redirect(w, r, "/train", http.StatusFound)
		case "stop":
			p.net.Stop()
			http.Redirect(w, r, "/train", http.StatusFound)
		default:
			p.Heading = p.net.heading()
			p.Exec(w, r, "train", p)
		}
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Exec(w, r, "stats", p)
	}
}

// Handler function for websocket connection
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("websocket:", err)
			return
		}
		p.net.AddConn(conn)
		go p.net.Watch(conn)
	}
}

// Handler function for the loss and accuracy plots
func (p *TrainPage) Plot() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		stats := append([]nnet.Stats{}, p.net.Stats...)
		p.net.Unlock()
		var plt *plot.Plot
		switch mux.Vars(r)["name"] {
		case "loss":
			plt = plots.Loss(stats)
		case "accuracy":
			plt = plots.Accuracy(stats)
		default:
			http.NotFound(w, r)
			return
		}
		svg, err := plots.SVG(plt, 500, 300)
		if err != nil {
			logError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write(svg)
	}
}

func (p *TrainPage) Headers() []string {
	valid := len(p.net.Stats) > 0 && p.net.Stats[0].Valid
	return nnet.StatsHeaders(valid)
}

// LatestStats returns up to n most recent epochs, newest first
func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	last := len(p.net.Stats) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-n; i-- {
		res = append(res, p.net.Stats[i])
	}
	return res
}

func (p *TrainPage) Score() *nnet.Score {
	return p.net.Score
}

func (p *TrainPage) Running() bool {
	return p.net.Running()
}

func (p *TrainPage) RunTime() string {
	if len(p.net.Stats) == 0 {
		return ""
	}
	elapsed := p.net.Stats[len(p.net.Stats)-1].Elapsed
	return fmt.Sprintf("run time: %s", elapsed.Round(10*time.Millisecond))
}

// Timestamp is appended to plot urls so the browser reloads them
func (p *TrainPage) Timestamp() template.URL {
	return template.URL(fmt.Sprint(time.Now().UnixNano()))
}
