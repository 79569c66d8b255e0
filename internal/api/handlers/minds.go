// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/volute/volute/internal/connector"
	"github.com/volute/volute/internal/delivery"
	"github.com/volute/volute/internal/mind"
	"github.com/volute/volute/internal/registry"
)

// MindHandler handles mind lifecycle and message-delivery API requests.
// Adapted from the teacher's ServiceHandler — same shape (List/Get/
// Start/Stop/Restart against a supervised-subprocess manager), generalized
// to minds plus the message-routing and connector endpoints this domain
// adds.
type MindHandler struct {
	reg        *registry.Store
	minds      *mind.Manager
	connectors *connector.Manager
	delivery   *delivery.Manager
}

// NewMindHandler creates a new mind handler.
func NewMindHandler(reg *registry.Store, minds *mind.Manager, connectors *connector.Manager, dm *delivery.Manager) *MindHandler {
	return &MindHandler{reg: reg, minds: minds, connectors: connectors, delivery: dm}
}

type mindView struct {
	Name    string        `json:"name"`
	Port    int           `json:"port"`
	Running bool          `json:"running"`
	Status  *mind.Status  `json:"status,omitempty"`
}

func (h *MindHandler) view(name string) (mindView, bool) {
	rec, err := h.reg.Get(name)
	if err != nil {
		return mindView{}, false
	}
	v := mindView{Name: rec.Name, Port: rec.Port, Running: h.minds.IsRunning(name)}
	if st, ok := h.minds.Status(name); ok {
		v.Status = &st
	}
	return v, true
}

// List returns every registered mind.
func (h *MindHandler) List(w http.ResponseWriter, r *http.Request) {
	recs := h.reg.List()
	views := make([]mindView, 0, len(recs))
	for _, rec := range recs {
		if v, ok := h.view(rec.Name); ok {
			views = append(views, v)
		}
	}
	WriteJSON(w, http.StatusOK, views)
}

// Get returns a single mind by name.
func (h *MindHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	v, ok := h.view(name)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "mind not found")
		return
	}
	WriteJSON(w, http.StatusOK, v)
}

// Start starts a mind's subprocess.
func (h *MindHandler) Start(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.minds.StartMind(context.Background(), name); err != nil {
		WriteError(w, http.StatusBadRequest, ErrMindError, err.Error())
		return
	}
	v, _ := h.view(name)
	WriteJSON(w, http.StatusOK, v)
}

// Stop stops a mind's subprocess.
func (h *MindHandler) Stop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.minds.StopMind(context.Background(), name); err != nil {
		WriteError(w, http.StatusBadRequest, ErrMindError, err.Error())
		return
	}
	v, _ := h.view(name)
	WriteJSON(w, http.StatusOK, v)
}

// Restart restarts a mind's subprocess.
func (h *MindHandler) Restart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.minds.RestartMind(context.Background(), name); err != nil {
		WriteError(w, http.StatusBadRequest, ErrMindError, err.Error())
		return
	}
	v, _ := h.view(name)
	WriteJSON(w, http.StatusOK, v)
}

// inboundMessage mirrors delivery.Message's wire shape for the connector
// contract in spec §6.
type inboundMessage struct {
	Content          []delivery.ContentPart `json:"content"`
	Channel          string                 `json:"channel"`
	Sender           string                 `json:"sender,omitempty"`
	Platform         string                 `json:"platform,omitempty"`
	IsDM             bool                   `json:"isDM,omitempty"`
	ChannelName      string                 `json:"channelName,omitempty"`
	ServerName       string                 `json:"serverName,omitempty"`
	ParticipantCount int                    `json:"participantCount,omitempty"`
}

// Message accepts an inbound connector message and hands it to the
// DeliveryManager for routing.
func (h *MindHandler) Message(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var in inboundMessage
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid message body")
		return
	}

	msg := delivery.Message{
		Content:          in.Content,
		Channel:          in.Channel,
		Sender:           in.Sender,
		Platform:         in.Platform,
		IsDM:             in.IsDM,
		ChannelName:      in.ChannelName,
		ServerName:       in.ServerName,
		ParticipantCount: in.ParticipantCount,
	}

	result, err := h.delivery.RouteAndDeliver(r.Context(), name, msg)
	if err != nil {
		WriteError(w, http.StatusBadGateway, ErrMindError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Typing forwards a typing-indicator notice straight through to the mind's
// child HTTP API, bypassing the DeliveryManager — this is a transient UX
// signal, not a message to route or batch.
func (h *MindHandler) Typing(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rec, err := h.reg.Get(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "mind not found")
		return
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	payload, _ := json.Marshal(body)

	url := "http://127.0.0.1:" + strconv.Itoa(rec.Port) + "/typing"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		WriteError(w, http.StatusBadGateway, ErrMindError, err.Error())
		return
	}
	defer resp.Body.Close()
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// connectorSpec is the request body for adding a connector.
type connectorSpec struct {
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

// AddConnector starts a connector subprocess of the given type for a mind.
func (h *MindHandler) AddConnector(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, typ := vars["name"], vars["type"]

	rec, err := h.reg.Get(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "mind not found")
		return
	}

	var spec connectorSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid connector spec")
		return
	}

	err = h.connectors.StartConnector(r.Context(), name, filepath.Join(rec.Dir, "home"), rec.Port, connector.Spec{
		Type: typ, Command: spec.Command, Env: spec.Env,
	})
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrMindError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RemoveConnector stops a mind's running connector of the given type.
func (h *MindHandler) RemoveConnector(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, typ := vars["name"], vars["type"]
	if err := h.connectors.StopConnector(r.Context(), name, typ); err != nil {
		WriteError(w, http.StatusBadRequest, ErrMindError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
