package web

import (
	"fmt"
	"log"
	"net/http"

	"github.com/bondmcsteve/artificial-intelligence/nnet"
)

type ConfigPage struct {
	*Templates
	Fields     []Field
	Layers     []Layer
	Topologies []string
	net        *Network
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

type Layer struct {
	Index int
	Desc  string
}

// Base data for handler functions to view and update the network config
func NewConfigPage(t *Templates, net *Network) *ConfigPage {
	p := &ConfigPage{net: net}
	p.Templates = t.Select("/config")
	p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	p.AddOption(Link{Name: "reset", Url: "/config/reset"})
	for _, t := range nnet.Topologies {
		p.Topologies = append(p.Topologies, t.String())
	}
	p.Fields = getFields(net.Conf)
	p.Layers = getLayers(net.Conf)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.net.heading()
		p.Exec(w, r, "config", p)
	}
}

// Handler function for the config form save action
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		r.ParseForm()
		haveErrors := false
		conf := p.net.Conf
		for i, fld := range p.Fields {
			val := r.Form.Get(fld.Name)
			var err error
			if fld.Boolean {
				p.Fields[i].On = (val == "true")
				conf, err = conf.SetBool(fld.Name, p.Fields[i].On)
			} else {
				p.Fields[i].Value = val
				conf, err = conf.SetString(fld.Name, val)
			}
			p.Fields[i].Error = ""
			if err != nil {
				p.Fields[i].Error = "invalid syntax"
				haveErrors = true
			}
		}
		if haveErrors {
			p.Flash(w, r, "config not saved: invalid fields")
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		if conf.Topology != p.net.Conf.Topology {
			top, err := nnet.ParseTopology(conf.Topology)
			if err != nil {
				p.Flash(w, r, err.Error())
				http.Redirect(w, r, "/config", http.StatusFound)
				return
			}
			layers, _ := top.Layers(len(p.net.Train.Classes()))
			conf.Layers = nil
			conf = conf.AddLayers(layers...)
		}
		if err := p.net.SetConfig(conf); err != nil {
			p.Flash(w, r, fmt.Sprint("config not saved: ", err))
		} else {
			log.Println("config updated")
			p.Flash(w, r, "config saved")
		}
		p.Fields = getFields(p.net.Conf)
		p.Layers = getLayers(p.net.Conf)
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function to restore the default config for the current topology
func (p *ConfigPage) Reset() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		top, err := nnet.ParseTopology(p.net.Conf.Topology)
		if err == nil {
			var conf nnet.Config
			if conf, err = nnet.DefaultConfig(p.net.Conf.DataSet, top, len(p.net.Train.Classes())); err == nil {
				err = p.net.SetConfig(conf)
			}
		}
		if err != nil {
			p.Flash(w, r, fmt.Sprint("reset failed: ", err))
		}
		p.Fields = getFields(p.net.Conf)
		p.Layers = getLayers(p.net.Conf)
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

func getFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		if key == "DataSet" {
			continue
		}
		f := Field{Name: key, Value: fmt.Sprint(conf.Get(key))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}

func getLayers(conf nnet.Config) []Layer {
	layers := make([]Layer, len(conf.Layers))
	for i, l := range conf.Layers {
		layers[i].Index = i
		if layer, err := l.Unmarshal(); err == nil {
			layers[i].Desc = layer.ToString()
		} else {
			layers[i].Desc = err.Error()
		}
	}
	return layers
}
