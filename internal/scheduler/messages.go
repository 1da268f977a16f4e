package scheduler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/engagepush/backend/internal/domain"
)

// NoviceLevel users get Portuguese copy; everyone else gets English.
const NoviceLevel = "Novice"

const (
	WeeklyXPGoal        = 100
	GoalReminderFloorXP = 80
	goalURL             = "/goals"
)

var weeklyChallenges = []string{
	"Pronunciation Master",
	"Grammar Guru",
	"Conversation Champion",
	"Vocabulary Builder",
	"Fluency Challenger",
	"Speaking Streak",
	"Writing Wizard",
	"Listening Legend",
}

// WeeklyChallenge rotates through the challenge list by week of year.
func WeeklyChallenge(now time.Time) string {
	start := time.Date(now.Year(), time.January, 0, 0, 0, 0, 0, now.Location())
	week := int(now.Sub(start).Hours()) / (24 * 7)
	return weeklyChallenges[week%len(weeklyChallenges)]
}

func streakReminder(p domain.UserPreferences) domain.Notification {
	n := domain.Notification{
		Type: domain.TypeStreakReminder,
		URL:  domain.DefaultURL,
		Data: map[string]string{
			"streakDays": strconv.Itoa(p.StreakDays),
			"userLevel":  p.Level,
		},
	}
	if p.Level == NoviceLevel {
		n.Title = fmt.Sprintf("🔥 Seu streak de %d dias está em risco!", p.StreakDays)
		n.Body = "Não quebre a sequência! Pratique apenas 5 minutos para manter seu streak."
	} else {
		n.Title = fmt.Sprintf("🔥 Your %d-day streak is at risk!", p.StreakDays)
		n.Body = "Don't break the chain! Practice for just 5 minutes to keep your streak alive."
	}
	return n
}

func weeklyChallenge(p domain.UserPreferences, challenge string) domain.Notification {
	n := domain.Notification{
		Type: domain.TypeWeeklyChallenge,
		URL:  domain.DefaultURL,
		Data: map[string]string{
			"challengeTitle": challenge,
			"userLevel":      p.Level,
		},
	}
	if p.Level == NoviceLevel {
		n.Title = "💪 Novo desafio: " + challenge
		n.Body = "Esta semana, desafie-se a melhorar ainda mais! Vamos lá?"
	} else {
		n.Title = "💪 New Challenge: " + challenge
		n.Body = "This week, challenge yourself to improve even more! Are you in?"
	}
	return n
}

func practiceReminder(p domain.UserPreferences) domain.Notification {
	name := p.Name
	n := domain.Notification{
		Type: domain.TypePracticeReminder,
		URL:  domain.DefaultURL,
		Data: map[string]string{
			"userName":  name,
			"userLevel": p.Level,
		},
	}
	if p.Level == NoviceLevel {
		if name == "" {
			name = "aluno"
		}
		n.Title = fmt.Sprintf("⏰ Olá %s! Hora de praticar!", name)
		n.Body = "Que tal uma sessão rápida de inglês? Charlotte está esperando por você! 🎯"
	} else {
		if name == "" {
			name = "there"
		}
		n.Title = fmt.Sprintf("⏰ Hi %s! Time to practice!", name)
		n.Body = "How about a quick English session? Charlotte is waiting for you! 🎯"
	}
	return n
}

func goalReminder(p domain.UserPreferences) domain.Notification {
	progress := p.WeeklyXP * 100 / WeeklyXPGoal
	n := domain.Notification{
		Type: domain.TypeGoalReminder,
		URL:  goalURL,
		Data: map[string]string{
			"goalType":  "weekly XP",
			"progress":  strconv.Itoa(progress),
			"userLevel": p.Level,
		},
	}
	if p.Level == NoviceLevel {
		n.Title = fmt.Sprintf("🎯 Você está %d%% mais perto da sua meta de XP semanal!", progress)
		n.Body = "Apenas mais algumas práticas e você alcançará seu objetivo. Não desista agora!"
	} else {
		n.Title = fmt.Sprintf("🎯 You're %d%% closer to your weekly XP goal!", progress)
		n.Body = "Just a few more practices and you'll reach your target. Don't give up now!"
	}
	return n
}
