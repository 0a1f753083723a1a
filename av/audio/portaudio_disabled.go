//go:build noportaudio

package audio

func openHardwareBackend(name string, format Format) (backend, error) {
	return nil, ErrBackendUnavailable
}
