package workforce

type Role string

type WorkMode string

type LinkType string

type KPI struct {
	ID        string   `json:"id"`
	Month     string   `json:"month"`
	TMA       *string  `json:"tma"`
	NPS       *float64 `json:"nps"`
	Monitoria *float64 `json:"monitoria"`
}

type Feedback struct {
	ID               string `json:"id"`
	Date             string `json:"date"`
	SupervisorID     string `json:"supervisorId"`
	SupervisorName   string `json:"supervisorName"`
	Comment          string `json:"comment"`
	OperatorResponse string `json:"operatorResponse,omitempty"`
	IsRead           *bool  `json:"isRead,omitempty"`
	ActionPlan       string `json:"actionPlan,omitempty"`
}

// Responded reports whether the operator already answered the feedback.
func (f Feedback) Responded() bool {
	return f.OperatorResponse != ""
}

// Unread reports a response the supervisor has not acknowledged yet.
func (f Feedback) Unread() bool {
	return f.Responded() && f.IsRead != nil && !*f.IsRead
}

type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
	Date string `json:"date"`
}

type Operator struct {
	UserID        string     `json:"user_id,omitempty"`
	Registration  string     `json:"registration"`
	Name          string     `json:"name"`
	AdmissionDate string     `json:"admissionDate"`
	Role          string     `json:"role"`
	LinkType      LinkType   `json:"linkType"`
	CostCenter    string     `json:"costCenter"`
	WorkMode      WorkMode   `json:"workMode"`
	BirthDate     string     `json:"birthDate"`
	PhotoURL      string     `json:"photoUrl,omitempty"`
	Active        bool       `json:"active"`
	KPIs          []KPI      `json:"kpis"`
	Feedbacks     []Feedback `json:"feedbacks"`
	Documents     []Document `json:"documents"`
}

// Clone returns a deep copy so optimistic snapshots never share backing arrays.
func (o Operator) Clone() Operator {
	out := o
	out.KPIs = make([]KPI, len(o.KPIs))
	for i, k := range o.KPIs {
		out.KPIs[i] = k.clone()
	}
	out.Feedbacks = make([]Feedback, len(o.Feedbacks))
	for i, f := range o.Feedbacks {
		if f.IsRead != nil {
			read := *f.IsRead
			f.IsRead = &read
		}
		out.Feedbacks[i] = f
	}
	out.Documents = append(make([]Document, 0, len(o.Documents)), o.Documents...)
	return out
}

func (k KPI) clone() KPI {
	out := k
	if k.TMA != nil {
		v := *k.TMA
		out.TMA = &v
	}
	if k.NPS != nil {
		v := *k.NPS
		out.NPS = &v
	}
	if k.Monitoria != nil {
		v := *k.Monitoria
		out.Monitoria = &v
	}
	return out
}

// CloneAll deep-copies a collection.
func CloneAll(ops []Operator) []Operator {
	out := make([]Operator, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

type TeamGoals struct {
	TMA       string  `json:"tma"`
	NPS       float64 `json:"nps"`
	Monitoria float64 `json:"monitoria"`
}

// Find returns the index of the operator with the given registration, or -1.
func Find(ops []Operator, registration string) int {
	for i, op := range ops {
		if op.Registration == registration {
			return i
		}
	}
	return -1
}
