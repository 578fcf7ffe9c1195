package adblocker

import (
	"net/http"

	"github.com/strct-org/adblock-tunnel/internal/errs"
	"github.com/strct-org/adblock-tunnel/internal/httputil"
)

// every feature initialises its own routes
func (c *Controller) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/adblock/status", c.HandleStatus)
	mux.HandleFunc("POST /api/adblock/start", c.HandleStart)
	mux.HandleFunc("POST /api/adblock/stop", c.HandleStop)
	mux.HandleFunc("POST /api/adblock/toggle", c.HandleToggle)
}

func (c *Controller) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, c.Status())
}

func (c *Controller) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := c.Start(); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.OK(w, c.Status())
}

func (c *Controller) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := c.Stop(); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.OK(w, c.Status())
}

// HandleToggle starts the tunnel when it is stopped and stops it otherwise.
func (c *Controller) HandleToggle(w http.ResponseWriter, r *http.Request) {
	var err error
	if c.Status().Running {
		err = c.Stop()
	} else {
		err = c.Start()
	}
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.OK(w, c.Status())
}
