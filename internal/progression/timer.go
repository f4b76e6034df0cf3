package progression

// AMRAP timer state lives on the session but is advanced by the caller:
// the server never runs its own ticker, clients report elapsed time and
// the session only validates and stores it.

// StartAmrapTimer arms the timer with the day's time cap in minutes.
func (s *Session) StartAmrapTimer(minutes int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	seconds := minutes * 60
	s.amrapSecondsRemaining = &seconds
	s.amrapTimerActive = true
	s.amrapTimerPaused = false
}

// UpdateAmrapTimer records the remaining seconds as reported by the client.
func (s *Session) UpdateAmrapTimer(secondsRemaining int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.amrapTimerActive {
		return
	}
	s.amrapSecondsRemaining = &secondsRemaining
}

func (s *Session) PauseAmrapTimer() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.amrapTimerActive {
		return
	}
	s.amrapTimerPaused = true
}

func (s *Session) ResumeAmrapTimer() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.amrapTimerActive {
		return
	}
	s.amrapTimerPaused = false
}

// StopAmrapTimer disarms the timer and drops the remaining time.
func (s *Session) StopAmrapTimer() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.amrapSecondsRemaining = nil
	s.amrapTimerActive = false
	s.amrapTimerPaused = false
}

func (s *Session) AmrapSecondsRemaining() *int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.amrapSecondsRemaining == nil {
		return nil
	}
	remaining := *s.amrapSecondsRemaining
	return &remaining
}

// IsAmrapTimeExpired reports whether an armed timer has run out. A session
// without a timer never reports expired.
func (s *Session) IsAmrapTimeExpired() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.amrapSecondsRemaining != nil && *s.amrapSecondsRemaining <= 0
}
