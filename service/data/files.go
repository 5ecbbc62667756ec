package data

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
)

type filesDBService struct {
	CfgSvc config.IService
}

func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) RetrieveCameras() ([]model.Camera, error) {
	cameras := []model.Camera{}

	input := svc.CfgSvc.GetCamerasInputFile()
	data, err := os.ReadFile(input)
	if err != nil {
		return cameras, err
	}

	err = json.Unmarshal(data, &cameras)
	if err != nil {
		return cameras, err
	}

	return cameras, nil
}

func (svc *filesDBService) RetrieveCamerasByID(id string) (model.Camera, error) {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return model.Camera{}, err
	}

	for _, camera := range cameras {
		if camera.ID == id {
			return camera, nil
		}
	}

	return model.Camera{}, nil
}

func (svc *filesDBService) RetrieveCamerasByIDs(ids []string) ([]model.Camera, error) {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return nil, err
	}

	var result []model.Camera
	for _, camera := range cameras {
		for _, id := range ids {
			if camera.ID == id {
				result = append(result, camera)
			}
		}
	}

	return result, nil
}

func (svc *filesDBService) RetrieveOrphanedCameras(max int) ([]model.Camera, error) {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return nil, err
	}

	var result []model.Camera
	now := time.Now().Unix()
	for _, camera := range cameras {
		if camera.AgentID == "" || now-camera.LastHeartBeat == 0 || (now-camera.LastHeartBeat > 5*60) {
			result = append(result, camera)
			if len(result) >= max {
				break
			}
		}
	}

	return result, nil
}

func (svc *filesDBService) UpdateCameraExcluded(id string, excluded bool) error {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return err
	}

	for i, camera := range cameras {
		if camera.ID == id {
			cameras[i].Excluded = excluded
			break
		}
	}

	return svc.writeCameras(cameras)
}

func (svc *filesDBService) UpdateCameraAgentID(cameraID, agentID string) error {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return err
	}

	for i, camera := range cameras {
		if camera.ID == cameraID {
			cameras[i].AgentID = agentID
			cameras[i].StartupTime = time.Now().Unix()
			cameras[i].LastHeartBeat = time.Now().Unix()
			cameras[i].Uptime = cameras[i].LastHeartBeat - cameras[i].StartupTime
			break
		}
	}

	return svc.writeCameras(cameras)
}

func (svc *filesDBService) UpdateCameraAgentHeartbeat(id string) error {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return err
	}

	for i, camera := range cameras {
		if camera.ID == id {
			cameras[i].LastHeartBeat = time.Now().Unix()
			cameras[i].Uptime = cameras[i].LastHeartBeat - cameras[i].StartupTime
			break
		}
	}

	return svc.writeCameras(cameras)
}

func (svc *filesDBService) writeCameras(cameras []model.Camera) error {
	data, err := json.MarshalIndent(cameras, "", "  ")
	if err != nil {
		return err
	}

	output := svc.CfgSvc.GetCamerasInputFile()
	// Write the JSON data to the file (with truncation)
	return os.WriteFile(output, data, 0644)
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	if custom, ok := err.(model.CustomError); ok {
		customErr = custom
	} else {
		customErr.Processor = "N/A"
		customErr.Inner = err.(error)
		customErr.Message = err.(error).Error()
		customErr.StackTrace = "N/A"
		customErr.Misc = nil
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	if customErr.Inner != nil {
		errorData.Inner = customErr.Inner.Error()
	}

	return svc.appendJSON("errors.json", errorData)
}

func (svc *filesDBService) NewAgentsManagerStats(stats model.AgentsManagerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.appendJSON("agents_manager_stats.json", stats)
}

func (svc *filesDBService) NewAgentStats(stats model.AgentStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.appendJSON("agent_stats.json", stats)
}

func (svc *filesDBService) NewFeederStats(stats model.FeederStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.appendJSON("feeder_stats.json", stats)
}

func (svc *filesDBService) NewEngineStats(stats model.EngineStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.appendJSON("engine_stats.json", stats)
}

func (svc *filesDBService) NewTrackerStats(stats model.TrackerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.appendJSON("tracker_stats.json", stats)
}

func (svc *filesDBService) NewStateStats(stats model.StateStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.appendJSON("state_stats.json", stats)
}

func (svc *filesDBService) appendJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(svc.CfgSvc.GetOutputFolder(), 0755); err != nil {
		return err
	}

	path := fmt.Sprintf("%s/%s", svc.CfgSvc.GetOutputFolder(), name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}
