package workforce

const (
	RoleSupervisor Role = "Supervisor"
	RoleOperator   Role = "Operador"

	WorkModePresential WorkMode = "Presencial"
	WorkModeHomeOffice WorkMode = "Home Office"

	LinkTypeEfetivo    LinkType = "Efetivo"
	LinkTypeTemporario LinkType = "Temporário"
	LinkTypeAprendiz   LinkType = "Aprendiz"

	// DurationAbsent is stored when no handle time was measured.
	DurationAbsent = "00:00:00"

	// GoalsConfigKey is the config row holding the team goals.
	GoalsConfigKey = "metas"

	DefaultOperatorRole = "Op. Receptivo 1"
)

func DefaultGoals() TeamGoals {
	return TeamGoals{TMA: "00:04:30", NPS: 75, Monitoria: 85}
}

func (r Role) IsSupervisor() bool {
	return r == RoleSupervisor
}

func ValidWorkMode(mode WorkMode) bool {
	return mode == WorkModePresential || mode == WorkModeHomeOffice
}

func ValidLinkType(link LinkType) bool {
	switch link {
	case LinkTypeEfetivo, LinkTypeTemporario, LinkTypeAprendiz:
		return true
	}
	return false
}

// FallbackRoster is served when the backend cannot be read at all.
func FallbackRoster() []Operator {
	seed := []struct {
		registration string
		name         string
		admission    string
		link         LinkType
		mode         WorkMode
		birth        string
	}{
		{"19186", "Ana Paula Ferreira", "05/10/2024", LinkTypeEfetivo, WorkModeHomeOffice, "21/05/1986"},
		{"19191", "Bruno Henrique Costa", "05/10/2024", LinkTypeEfetivo, WorkModeHomeOffice, "22/08/1976"},
		{"19195", "Carla Regina Souza", "05/10/2024", LinkTypeEfetivo, WorkModeHomeOffice, "09/08/1986"},
		{"19336", "Diego Martins Lopes", "07/04/2025", LinkTypeEfetivo, WorkModePresential, "23/07/1998"},
		{"55615", "Eduarda Lima Rocha", "04/04/2025", LinkTypeTemporario, WorkModePresential, "25/09/1980"},
		{"56325", "Felipe Araujo Nunes", "18/08/2025", LinkTypeTemporario, WorkModePresential, "18/02/1996"},
	}
	out := make([]Operator, 0, len(seed))
	for _, s := range seed {
		out = append(out, Operator{
			Registration:  s.registration,
			Name:          s.name,
			AdmissionDate: s.admission,
			Role:          DefaultOperatorRole,
			LinkType:      s.link,
			CostCenter:    "CENTRAL 156",
			WorkMode:      s.mode,
			BirthDate:     s.birth,
			Active:        true,
			KPIs:          []KPI{},
			Feedbacks:     []Feedback{},
			Documents:     []Document{},
		})
	}
	return out
}
