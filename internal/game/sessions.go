package game

// Connect registers the session, or marks a known one connected again.
func (e *Engine) Connect(id string) error {
	return e.update("connect", "", func() error {
		p := e.ensureParticipantLocked(id)
		p.Connected = true
		e.publishSnapshotLocked()
		return nil
	})
}

// Disconnect marks the session offline. Its position keeps counting toward the price.
func (e *Engine) Disconnect(id string) error {
	return e.update("disconnect", "", func() error {
		p, ok := e.participants[id]
		if !ok {
			return nil
		}
		p.Connected = false
		e.recomputePriceLocked()
		e.publishSnapshotLocked()
		return nil
	})
}

// SetDisplayName stores the normalized name and returns it.
func (e *Engine) SetDisplayName(id, name string) (string, error) {
	var confirmed string
	err := e.update("set_username", id, func() error {
		confirmed = NormalizeDisplayName(id, name)
		p := e.ensureParticipantLocked(id)
		p.DisplayName = confirmed
		e.emit(Event{Kind: EventUsernameConfirmed, SessionID: id, Payload: UsernamePayload{Name: confirmed}})
		e.publishSnapshotLocked()
		return nil
	})
	return confirmed, err
}

// AuthenticateAdmin grants admin status to the session when secret matches.
func (e *Engine) AuthenticateAdmin(id, secret string) error {
	return e.update("admin_login", "", func() error {
		if e.auth == nil || !e.auth.CheckAdminSecret(secret) {
			e.log.Warn("admin login failed", "session", id)
			e.emit(Event{
				Kind:      EventAdminAuthResult,
				SessionID: id,
				Payload:   AdminAuthPayload{Success: false, Message: ErrBadCredentials.Error()},
			})
			return ErrBadCredentials
		}
		e.ensureParticipantLocked(id)
		e.admins[id] = struct{}{}
		e.log.Info("admin login", "session", id)
		e.emit(Event{
			Kind:      EventAdminAuthResult,
			SessionID: id,
			Payload:   AdminAuthPayload{Success: true, Message: "admin login successful"},
		})
		e.publishSnapshotLocked()
		return nil
	})
}

// DisplayName returns the stored name for id, or the default name for an unknown session.
func (e *Engine) DisplayName(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.participants[id]; ok {
		return p.DisplayName
	}
	return DefaultDisplayName(id)
}
