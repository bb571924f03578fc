package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"

	"github.com/bondmcsteve/artificial-intelligence/img"
)

// largest accepted upload
const maxUpload = 8 << 20

type PredictPage struct {
	*Templates
	net *Network
}

// Result returned from the predict handler as JSON
type Result struct {
	Class      int       `json:"class"`
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Probs      []float32 `json:"probs"`
	Classes    []string  `json:"classes"`
	Epoch      int       `json:"epoch"`
}

// Base data for handler functions to classify drawn or uploaded images
func NewPredictPage(t *Templates, net *Network) *PredictPage {
	p := &PredictPage{net: net}
	p.Templates = t.Select("/predict")
	return p
}

// Handler function for the page with the drawing canvas and upload form
func (p *PredictPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.net.heading()
		p.Exec(w, r, "predict", p)
	}
}

// Handler function to classify an image. The image is either a data URL in the image form
// field as sent by the canvas, or a multipart file upload in the file field.
func (p *PredictPage) Predict() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		src, err := readImage(r)
		if err != nil {
			jsonError(w, err, http.StatusBadRequest)
			return
		}
		pred, err := p.net.Predict(src)
		if errors.Is(err, ErrNotTrained) {
			jsonError(w, err, http.StatusServiceUnavailable)
			return
		} else if err != nil {
			jsonError(w, err, http.StatusInternalServerError)
			return
		}
		p.net.Lock()
		res := Result{
			Class:      pred.Class,
			Label:      pred.Label,
			Confidence: pred.Probs[pred.Class],
			Probs:      pred.Probs,
			Classes:    p.net.Train.Classes(),
			Epoch:      p.net.Epoch,
		}
		p.net.Unlock()
		log.Printf("predict: %d %q confidence=%.3f", res.Class, res.Label, res.Confidence)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func readImage(r *http.Request) (image.Image, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("%w: %v", img.ErrDecode, err)
	}
	if url := r.FormValue("image"); url != "" {
		return img.DecodeDataURL(url)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: expecting image or file field", img.ErrDecode)
	}
	defer f.Close()
	return img.Decode(f)
}

func jsonError(w http.ResponseWriter, err error, status int) {
	log.Println(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
