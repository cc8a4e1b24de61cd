package services

import "roulette-backend/internal/models"

type Broadcaster interface {
	BroadcastGameSettled(event *models.SettledEvent)
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastGameSettled(*models.SettledEvent) {}
