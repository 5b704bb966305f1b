package lifecycle

type VersionStatus struct {
	Name       string   `json:"name"`
	State      string   `json:"state"`
	Partitions []string `json:"partitions"`
}

// Status is a snapshot of the controller, rendered by the status endpoint
type Status struct {
	Active  *VersionStatus `json:"active"`
	Waiting *VersionStatus `json:"waiting"`
	// Stored lists every partition present in the backend
	Stored  []string `json:"stored"`
	Clients int      `json:"clients"`
}

func describe(v *Version) *VersionStatus {
	if v == nil {
		return nil
	}
	return &VersionStatus{
		Name:       v.Name,
		State:      v.State().String(),
		Partitions: v.partitionNames(),
	}
}

func (c *Controller) Status() (Status, error) {
	c.mu.RLock()
	active, waiting := c.active, c.waiting
	c.mu.RUnlock()

	stored, err := c.backend.Partitions()
	if err != nil {
		return Status{}, err
	}
	if stored == nil {
		stored = []string{}
	}
	return Status{
		Active:  describe(active),
		Waiting: describe(waiting),
		Stored:  stored,
		Clients: c.clients.Count(),
	}, nil
}

