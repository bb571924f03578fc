package web

import (
	"fmt"
	"image/png"
	"net/http"
	"strconv"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/stats"
	"github.com/gorilla/mux"
)

type ImagePage struct {
	*Templates
	Dset   string
	Page   int
	Pages  int
	Total  int
	Errors bool
	Scale  int
	Rows   int
	Cols   int
	net    *Network
}

// Base data for handler functions to view the input image datasets
func NewImagePage(t *Templates, net *Network, scale, rows, cols int) *ImagePage {
	p := &ImagePage{net: net, Scale: scale, Rows: rows, Cols: cols}
	p.Templates = t.Select("/images")
	return p
}

// Handler function for the main image page
func (p *ImagePage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		if !p.setVars(r) {
			http.NotFound(w, r)
			return
		}
		p.Heading = p.net.heading()
		p.Options = []Link{
			{Name: "all", Url: p.url(p.Page, false), Selected: !p.Errors},
			{Name: "errors", Url: p.url(1, true), Selected: p.Errors},
			{Name: "prev", Url: p.url(mod(p.Page-1, 1, p.Pages), p.Errors)},
			{Name: "next", Url: p.url(mod(p.Page+1, 1, p.Pages), p.Errors)},
		}
		p.Exec(w, r, "images", p)
	}
}

// Handler function for the grid of images as a PNG
func (p *ImagePage) Grid() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		if !p.setVars(r) {
			http.NotFound(w, r)
			return
		}
		data, index, pred := p.selected()
		m := img.Grid(data, index, img.GridOptions{Cols: p.Cols, Scale: p.Scale, Caption: true, Pred: pred})
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, m)
	}
}

func (p *ImagePage) setVars(r *http.Request) bool {
	vars := mux.Vars(r)
	p.Dset = vars["dset"]
	if p.data() == nil {
		return false
	}
	p.Page, _ = strconv.Atoi(vars["page"])
	p.Errors = vars["inc"] == "errors"
	p.Total, p.Pages = p.pageCount()
	if p.Page > p.Pages || p.Page < 1 {
		p.Page = 1
	}
	return true
}

func (p *ImagePage) url(page int, errors bool) string {
	inc := "all"
	if errors {
		inc = "errors"
	}
	return fmt.Sprintf("/images/%s/%s/%d", inc, p.Dset, page)
}

// GridURL is the link to the image for the current page
func (p *ImagePage) GridURL() string {
	return "/grid" + p.url(p.Page, p.Errors)[len("/images"):]
}

// Distribution of the number of images per class in the current dataset
func (p *ImagePage) Distribution() *stats.Average {
	avg := new(stats.Average)
	for _, n := range p.data().Distribution() {
		avg.Add(float64(n))
	}
	return avg
}

func (p *ImagePage) data() *img.Data {
	switch p.Dset {
	case "train":
		return p.net.Train
	case "test":
		return p.net.Test
	}
	return nil
}

// predictions are only available for the test set once a run has completed
func (p *ImagePage) predictions() []int32 {
	if p.Dset == "test" {
		return p.net.Pred
	}
	return nil
}

func (p *ImagePage) showImage(i int) bool {
	if !p.Errors {
		return true
	}
	pred := p.predictions()
	return pred != nil && pred[i] != p.data().Labels[i]
}

func (p *ImagePage) pageCount() (nimg, pages int) {
	for i := range p.data().Labels {
		if p.showImage(i) {
			nimg++
		}
	}
	pages = (nimg + p.Rows*p.Cols - 1) / (p.Rows * p.Cols)
	if pages < 1 {
		pages = 1
	}
	return nimg, pages
}

// images shown on the current page with the corresponding predictions
func (p *ImagePage) selected() (data *img.Data, index []int, pred []int32) {
	data = p.data()
	all := p.predictions()
	skip := (p.Page - 1) * p.Rows * p.Cols
	for i := range data.Labels {
		if !p.showImage(i) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		index = append(index, i)
		if all != nil {
			pred = append(pred, all[i])
		}
		if len(index) == p.Rows*p.Cols {
			break
		}
	}
	return data, index, pred
}

func mod(i, min, max int) int {
	if i < min {
		i = max
	}
	if i > max {
		i = min
	}
	return i
}
