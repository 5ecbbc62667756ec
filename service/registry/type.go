package registry

import "github.com/guardvision/gv-go/model"

// IService distributes cameras that need an engine agent.
type IService interface {
	Publish(cameras []model.Camera) error
	Subscribe() (<-chan []model.Camera, error)
	Unsubscribe() error
}
