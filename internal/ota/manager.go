// Package ota is the OTA module: it polls the deployment server, answers
// configuration requests, installs deployments into the spare partition slot
// and reports the outcome.
//
// The install result is latched in memory until the server has accepted the
// feedback, so a report lost to a transport error is retried on the next
// poll cycle that offers a deployment.
package ota

import (
	"context"
	"errors"
	"time"

	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/timers"
	"github.com/solatis/aadnode/internal/types"
)

const (
	stateDisabled = iota
	stateIdle
	stateDownloaded
)

const timerPoll = 0

// MainArtifact is the only artifact file the device installs.
const MainArtifact = "main.bin"

// Options wires a Manager.
type Options struct {
	Config     *Config
	Client     *Client
	Partitions Partitions
	Flasher    *Flasher
	// Restart is called after an image was installed.
	Restart func()
}

// Manager is the OTA module.
type Manager struct {
	mod     *events.Module
	timers  *timers.Set
	cfg     *Config
	client  *Client
	parts   Partitions
	flasher *Flasher
	restart func()
	ctx     context.Context

	links    Links
	actionID string
	result   types.UpdateResult
	details  string
}

// NewManager registers the OTA module with router.
func NewManager(router *events.Router, opts Options) *Manager {
	m := &Manager{
		mod:     events.NewModule(events.OTA, events.LargeMailbox, router),
		cfg:     opts.Config,
		client:  opts.Client,
		parts:   opts.Partitions,
		flasher: opts.Flasher,
		restart: opts.Restart,
		ctx:     context.Background(),
	}
	m.timers = timers.New([]timers.Timer{
		{ID: timerPoll, Name: "ota_poll", Period: m.cfg.Settings().PollInterval(), Callback: func() {
			m.mod.Self(events.OTAPollServer)
		}},
	})
	m.cfg.OnApply(func() { m.mod.Self(events.OTAPollServer) })

	deinit := events.On(events.DeinitReq, m.onDeinit)
	m.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.InitReq, m.onInit),
		}},
		stateIdle: {Name: "IDLE", Handlers: []events.Handler{
			events.On(events.OTAPollServer, m.onPollServer),
			events.On(events.OTAPostConfigData, m.onPostConfigData),
			events.On(events.OTADownloadImage, m.onDownloadImage),
			events.On(events.OTAPostResult, m.onPostResult),
			deinit,
		}},
		stateDownloaded: {Name: "DOWNLOADED", Handlers: []events.Handler{deinit}},
	})
	return m
}

// Module exposes the underlying module for the runner.
func (m *Manager) Module() *events.Module {
	return m.mod
}

// Run dispatches events until ctx is done. Requests issued by handlers are
// bound to ctx.
func (m *Manager) Run(ctx context.Context) {
	m.ctx = ctx
	m.mod.Run(ctx)
	m.timers.StopAll()
}

// Result returns the latched install result and its details.
func (m *Manager) Result() (types.UpdateResult, string) {
	return m.result, m.details
}

func (m *Manager) onInit(ev *events.Event) {
	m.checkRollback()
	m.mod.ChangeState(stateIdle)
	m.mod.SendValue(ev.Src, events.InitRes, true)
	m.timers.Start(timerPoll)
}

// checkRollback confirms an image booted for the first time. Only an image in
// pending_verify is touched.
func (m *Manager) checkRollback() {
	state, err := m.parts.RunningState()
	if err != nil {
		m.mod.Log().Error().Err(err).Msg("Unable to read running partition state")
		return
	}
	if state != StatePendingVerify {
		return
	}
	if err := m.parts.MarkRunningValid(); err != nil {
		m.mod.Log().Error().Err(err).Msg("Unable to cancel rollback")
		return
	}
	m.result = types.ResultSuccess
	m.details = ""
	m.mod.Log().Info().Str("version", m.parts.Running().Version).Msg("App is valid, rollback cancelled")
}

func (m *Manager) onDeinit(*events.Event) {
	m.timers.Stop(timerPoll)
	m.mod.ChangeState(stateDisabled)
}

func (m *Manager) restartPoll() {
	m.timers.SetPeriod(timerPoll, m.cfg.Settings().PollInterval())
	m.timers.Start(timerPoll)
}

func (m *Manager) onPollServer(*events.Event) {
	body, err := m.client.Poll(m.ctx)
	m.restartPoll()
	if err != nil {
		m.mod.Log().Error().Err(err).Msg("Poll failed")
		return
	}

	links, err := ParseLinks(body)
	if err != nil {
		m.mod.Log().Error().Err(err).Msg("Invalid poll response")
		return
	}
	m.links = links

	if links.ConfigData != "" {
		m.mod.Self(events.OTAPostConfigData)
	}
	if links.DeploymentBase == "" {
		return
	}

	id, err := ExtractActionID(links.DeploymentBase)
	if err != nil {
		m.mod.Log().Error().Err(err).Msg("Deployment without action id, skipped")
		return
	}
	m.actionID = id
	m.mod.Log().Info().Str("action_id", id).Str("result", m.result.String()).Msg("Deployment offered")

	if m.result != types.ResultNone {
		m.mod.Self(events.OTAPostResult)
		return
	}
	m.mod.Self(events.OTADownloadImage)
}

func (m *Manager) onPostConfigData(*events.Event) {
	if m.links.ConfigData == "" {
		return
	}
	if err := m.client.PutConfigData(m.ctx, m.links.ConfigData); err != nil {
		m.mod.Log().Error().Err(err).Msg("Config data update failed")
		return
	}
	m.mod.Log().Info().Msg("Config data sent")
}

func (m *Manager) onDownloadImage(*events.Event) {
	body, err := m.client.GetDeployment(m.ctx, m.links.DeploymentBase)
	if err != nil {
		m.mod.Log().Error().Err(err).Msg("Deployment fetch failed")
		return
	}
	dep, err := ParseDeployment(body)
	if err != nil {
		m.mod.Log().Error().Err(err).Msg("Invalid deployment")
		return
	}

	m.timers.Stop(timerPoll)
	defer m.timers.Start(timerPoll)

	for _, chunk := range dep.Chunks {
		for _, a := range chunk.Artifacts {
			if a.Filename != MainArtifact {
				continue
			}
			if m.install(chunk, a) {
				return
			}
		}
	}
}

// install flashes one artifact and reports whether the device must restart.
func (m *Manager) install(chunk types.Chunk, a types.Artifact) bool {
	session := types.NewSessionID()
	log := m.mod.Log().With().Str("session", string(session)).Str("action_id", m.actionID).Logger()
	log.Info().Str("chunk", chunk.Name).Str("version", chunk.Version).Int64("size", a.Size).Msg("Installing artifact")

	desc, err := m.flasher.Flash(m.ctx, a.DownloadHTTP, a.Size)
	var ue *UpdateError
	switch {
	case err == nil:
		log.Info().Str("version", desc.Version).Dur("elapsed", sinceSession(session)).Msg("Image installed, restart required")
		m.mod.ChangeState(stateDownloaded)
		if m.restart != nil {
			m.restart()
		}
		return true
	case errors.As(err, &ue):
		log.Error().Err(err).Msg("Install failed")
		m.result = types.ResultFailed
		m.details = ue.Details
		m.mod.Self(events.OTAPostResult)
	default:
		log.Error().Err(err).Msg("Install aborted")
	}
	return false
}

func sinceSession(id types.SessionID) time.Duration {
	return time.Since(types.SessionTime(id))
}

func (m *Manager) onPostResult(*events.Event) {
	if m.result == types.ResultNone || m.actionID == "" {
		return
	}
	if err := m.client.PostFeedback(m.ctx, m.actionID, m.result, m.details); err != nil {
		m.mod.Log().Error().Err(err).Str("result", m.result.String()).Msg("Feedback failed, will retry")
		return
	}
	m.mod.Log().Info().Str("action_id", m.actionID).Str("result", m.result.String()).Msg("Feedback sent")
	m.result = types.ResultNone
	m.details = ""
}
