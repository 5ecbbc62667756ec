package model

import (
	"fmt"
	"runtime/debug"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

type Camera struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RtspURL       string `json:"rtspUrl"`
	FeederType    string `json:"feederType"`
	Excluded      bool   `json:"excluded"`
	AgentID       string `json:"agentId"`       // The agent id that is currently controlling this camera
	StartupTime   int64  `json:"startupTime"`   // The startup time of the agent
	LastHeartBeat int64  `json:"lastHeartbeat"` // The last heartbeat time of the agent
	Uptime        int64  `json:"uptime"`        // The uptime of the agent
}

type AgentStats struct {
	ID        string `json:"id"`     // Agent ID
	Camera    string `json:"camera"` // Camera name
	Uptime    int64  `json:"uptime"` // Uptime of the agent
	Timestamp int64  `json:"timestamp"`
}

type AgentsManagerStats struct {
	TotalCameraRequests               int64   `json:"cameraRequests"`
	TotalCameraRequestSubscriptions   int64   `json:"cameraRequestSubscriptions"`
	TotalCameraRequestUnsubscriptions int64   `json:"cameraRequestUnsubscriptions"`
	TotalRunningAgents                int64   `json:"runningAgents"`
	TotalRunningAgentsUptime          int64   `json:"runningAgentsUptime"`
	AvgRunningAgentsPerMin            float64 `json:"avgRunningAgentsPerMin"`
	Timestamp                         int64   `json:"timestamp"`
}

type FeederStats struct {
	Name          string `json:"name"`
	Camera        string `json:"camera"`
	FPS           int    `json:"fps"`
	Frames        int    `json:"frames"`
	SkippedFrames int    `json:"skippedFrames"`
	Errors        int    `json:"errors"`
	Uptime        int64  `json:"uptime"`
	Timestamp     int64  `json:"timestamp"`
}

type EngineStats struct {
	Name          string  `json:"name"`
	Worker        int     `json:"worker"`
	Camera        string  `json:"camera"`
	Frames        int     `json:"frames"`
	ShortCircuits int     `json:"shortCircuits"`
	Degraded      int     `json:"degraded"`
	Failed        int     `json:"failed"`
	Dropped       int64   `json:"dropped"`
	Errors        int     `json:"errors"`
	Uptime        int64   `json:"uptime"`
	AvgProcTime   float64 `json:"avgProcTime"`
	Timestamp     int64   `json:"timestamp"`
}

type TrackerStats struct {
	Camera    string `json:"camera"`
	Spawned   int64  `json:"spawned"`
	Matched   int64  `json:"matched"`
	Confirmed int64  `json:"confirmed"`
	Lost      int64  `json:"lost"`
	Removed   int64  `json:"removed"`
	Active    int    `json:"active"`
	Timestamp int64  `json:"timestamp"`
}

type StateStats struct {
	Camera      string `json:"camera"`
	Updates     int64  `json:"updates"`
	Transitions int64  `json:"transitions"`
	Records     int    `json:"records"`
	Timestamp   int64  `json:"timestamp"`
}
