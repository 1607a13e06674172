package ws

import "github.com/sirupsen/logrus"

type Hubs struct {
	Monitoring *MonitoringHub
	Client     *ClientHub
}

func NewHubs(log logrus.FieldLogger) *Hubs {
	return &Hubs{
		Monitoring: NewMonitoringHub(log),
		Client:     NewClientHub(log),
	}
}

// Start runs both hub loops in the background.
func (h *Hubs) Start() {
	go h.Monitoring.Run()
	go h.Client.Run()
}
