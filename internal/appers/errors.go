package appers

import "errors"

var (
	// ErrNoLiveInstances - пустой список живых инстансов, claim невозможен.
	ErrNoLiveInstances = errors.New("no live service instances")

	// ErrUnknownMessageType - для type tag не зарегистрирован хендлер.
	ErrUnknownMessageType = errors.New("no handler registered for message type")

	// ErrUnknownDestination - для destination нет транспорта.
	ErrUnknownDestination = errors.New("no transport for destination")

	// ErrTransportNotReady - маршрут временно недоступен, доставка повторится.
	ErrTransportNotReady = errors.New("transport route not ready")
)
