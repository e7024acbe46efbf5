package auth

import (
	"net/http"
	"time"
)

func SetClock(m *Manager, now func() time.Time) { m.now = now }

func SetHTTPClient(m *Manager, hc *http.Client) { m.hc = hc }
