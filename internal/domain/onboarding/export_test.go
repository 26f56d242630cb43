package onboarding

// LockedUsers возвращает число записей в карте мьютексов пользователей.
func (s *Service) LockedUsers() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

// LockUser занимает мьютекс пользователя, как это делает выполняющаяся команда.
func (s *Service) LockUser(userID int64) func() { return s.lockUser(userID) }
