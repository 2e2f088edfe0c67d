package scheduler

// History returns up to n most recent executions, newest first. n<=0 returns all kept.
func (s *Service) History(n int) []RunRecord {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]RunRecord, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func (s *Service) record(r RunRecord) {
	limit := s.Config().HistorySize
	s.hmu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > limit {
		s.history = append([]RunRecord(nil), s.history[len(s.history)-limit:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) trimHistory(limit int) {
	s.hmu.Lock()
	if len(s.history) > limit {
		s.history = append([]RunRecord(nil), s.history[len(s.history)-limit:]...)
	}
	s.hmu.Unlock()
}
