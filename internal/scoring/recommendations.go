package scoring

import (
	"fmt"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
)

// riskFactors emits named factors for features crossing inspection thresholds.
// Messages are user-facing and therefore in French.
func riskFactors(v *feature.Vector) []risk.Factor {
	var factors []risk.Factor

	add := func(name, description string, severity risk.Severity, value float64) {
		factors = append(factors, risk.Factor{
			Name:        name,
			Description: description,
			Severity:    severity,
			Value:       value,
		})
	}

	if avg := v.Get(feature.KeyCurrentAverage); avg < 8 {
		add("moyenne_tres_faible",
			fmt.Sprintf("Moyenne générale très faible (%.1f/20)", avg),
			risk.SeverityCritical, avg)
	} else if avg < 10 {
		add("moyenne_insuffisante",
			fmt.Sprintf("Moyenne générale insuffisante (%.1f/20)", avg),
			risk.SeverityHigh, avg)
	}

	if trend := v.Get(feature.KeyGradeTrend); trend < -2 {
		add("chute_des_notes",
			fmt.Sprintf("Chute des résultats (%.1f points)", trend),
			risk.SeverityHigh, trend)
	}

	if failed := v.Get(feature.KeyFailedSubjects); failed >= 3 {
		add("matieres_en_echec",
			fmt.Sprintf("%.0f matières en dessous de la moyenne", failed),
			risk.SeverityHigh, failed)
	}

	if rate := v.Get(feature.KeyAbsenceRate); rate > 20 {
		add("absenteisme_severe",
			fmt.Sprintf("Taux d'absentéisme très élevé (%.0f%%)", rate),
			risk.SeverityCritical, rate)
	} else if rate > 10 {
		add("absenteisme",
			fmt.Sprintf("Taux d'absentéisme préoccupant (%.0f%%)", rate),
			risk.SeverityMedium, rate)
	}

	if consecutive := v.Get(feature.KeyConsecutiveAbsences); consecutive > 5 {
		add("absences_consecutives",
			fmt.Sprintf("%.0f jours d'absence consécutifs", consecutive),
			risk.SeverityHigh, consecutive)
	}

	if incidents := v.Get(feature.KeyBehaviorIncidents); incidents > 3 {
		add("incidents_comportement",
			fmt.Sprintf("%.0f incidents de comportement signalés", incidents),
			risk.SeverityHigh, incidents)
	}

	if sanctions := v.Get(feature.KeySanctionsCount); sanctions > 2 {
		add("sanctions_repetees",
			fmt.Sprintf("%.0f sanctions disciplinaires", sanctions),
			risk.SeverityCritical, sanctions)
	}

	if hw := v.Get(feature.KeyHomeworkCompletion); hw < 50 && !v.Flags[feature.FlagHomeworkNoData] {
		add("devoirs_non_rendus",
			fmt.Sprintf("Seulement %.0f%% des devoirs rendus", hw),
			risk.SeverityMedium, hw)
	}

	if integration := v.Get(feature.KeySocialIntegration); integration < 3 {
		add("isolement_social",
			fmt.Sprintf("Score d'intégration sociale faible (%.1f/10)", integration),
			risk.SeverityMedium, integration)
	}

	return factors
}

// recommendations derives the ordered prescriptions and short directives
// from sub-score thresholds and specific feature triggers.
func recommendations(v *feature.Vector, r Result) (recs []string, actions []string) {
	if r.RiskScore > 70 {
		actions = append(actions, "Convocation urgente de l'équipe éducative")
	}

	if r.AcademicRisk >= 50 {
		recs = append(recs, "Mettre en place un soutien scolaire personnalisé")
		if v.Get(feature.KeyCurrentAverage) < 8 {
			actions = append(actions, "Organiser un entretien avec le professeur principal")
		}
	}
	if trend := v.Get(feature.KeyGradeTrend); trend < -2 {
		recs = append(recs, "Analyser les causes de la chute des résultats avec l'élève")
	}

	if r.AttendanceRisk >= 50 {
		recs = append(recs, "Contacter la famille au sujet de l'assiduité")
		actions = append(actions, "Signalement à la vie scolaire")
	} else if v.Get(feature.KeyAbsenceRate) > 10 {
		recs = append(recs, "Surveiller l'évolution de l'assiduité")
	}

	if r.BehavioralRisk >= 50 {
		recs = append(recs, "Proposer un suivi avec le conseiller principal d'éducation")
	}
	if v.Get(feature.KeySanctionsCount) > 2 {
		actions = append(actions, "Réunir la commission éducative")
	}

	if r.SocialRisk >= 50 {
		recs = append(recs, "Encourager la participation à des activités collectives")
		if v.Get(feature.KeySocialIntegration) < 3 {
			recs = append(recs, "Envisager un entretien avec le psychologue scolaire")
		}
	}

	if hw := v.Get(feature.KeyHomeworkCompletion); hw < 50 && !v.Flags[feature.FlagHomeworkNoData] {
		recs = append(recs, "Instaurer un suivi hebdomadaire du travail personnel")
	}

	if r.DropoutProbability >= 0.6 {
		actions = append(actions, "Évaluer l'opportunité d'un plan d'intervention")
	}

	if len(recs) == 0 && r.RiskLevel == risk.LevelVeryLow {
		recs = append(recs, "Poursuivre le suivi habituel")
	}
	return recs, actions
}
