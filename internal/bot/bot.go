package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"study-planner/internal/config"
	"study-planner/internal/excel"
	"study-planner/internal/model"
	"study-planner/internal/repository"
	"study-planner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageSubjectName
	stageSubjectTopics
	stageSubjectExam
	stageAddTopics
	stageStudyHours
	stageStudyDays
)

const cbCompletePrefix = "complete:"

const (
	btnSkip         = "⏭️ Пропустить"
	btnConfirm      = "✅ Подтвердить"
	btnCancel       = "↩️ Отмена"
	btnCancelDialog = "⏪ Отменить ввод"

	menuLabelNewSubject = "➕ Предмет"
	menuLabelPlan       = "🗓 План"
	menuLabelToday      = "📅 Сегодня"
	menuLabelDashboard  = "📊 Прогресс"
	menuLabelSubjects   = "📚 Предметы"
	menuLabelHelp       = "ℹ️ Помощь"

	dateLayout = "2006-01-02"
)

type conversationState struct {
	stage       conversationStage
	subjectName string
	topics      []string
	subjectID   uint // target of /addtopics
	hoursPerDay float64
}

// Bot aggregates Telegram API with the planner services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	subjectSvc    *service.SubjectService
	taskSvc       *service.TaskService
	plannerSvc    *service.PlannerService
	dashboardSvc  *service.DashboardService
	agendaSvc     *service.AgendaService
	importer      *excel.Importer
	config        *config.Config
	conversations map[int64]*conversationState
	confirmations map[int64]uint // pending complete-task confirmations
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, subjectSvc *service.SubjectService, taskSvc *service.TaskService, plannerSvc *service.PlannerService, dashboardSvc *service.DashboardService, agendaSvc *service.AgendaService, importer *excel.Importer, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      userRepo,
		subjectSvc:    subjectSvc,
		taskSvc:       taskSvc,
		plannerSvc:    plannerSvc,
		dashboardSvc:  dashboardSvc,
		agendaSvc:     agendaSvc,
		importer:      importer,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]uint),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён. Я здесь, чтобы начать заново.")
	}

	if msg.Document != nil {
		return b.handleDocument(ctx, msg)
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if taskID, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, taskID)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /newsubject, чтобы добавить предмет, или /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "newsubject":
		return b.startNewSubjectConversation(ctx, msg)
	case "subjects":
		return b.handleSubjects(ctx, msg)
	case "addtopics":
		return b.handleAddTopics(ctx, msg)
	case "setexam":
		return b.handleSetExam(ctx, msg)
	case "studytime":
		return b.startStudyTimeConversation(ctx, msg)
	case "generate":
		return b.handleGenerate(ctx, msg)
	case "today":
		return b.handleToday(ctx, msg)
	case "plan":
		return b.handlePlan(ctx, msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "reschedule":
		return b.handleReschedule(ctx, msg)
	case "dashboard":
		return b.handleDashboard(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Текущий ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}

	text := fmt.Sprintf(
		"👋 Привет, %s!\n<b>Я планировщик подготовки: раскладываю темы по дням до экзаменов.</b>\n\nС чего начать:\n"+
			"1. /newsubject — добавить предмет с темами и датой экзамена\n"+
			"2. /studytime — сколько часов в день ты готов заниматься\n"+
			"3. /generate — построить план\n\n"+
			"Дальше: /today — темы на сегодня, /plan — весь план, /dashboard — прогресс.\n"+
			"Можно прислать файл .xlsx или .csv (предмет; тема; дата экзамена) — импортирую всё сразу.",
		escape(name),
	)

	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Подсказки</b>\n" +
		"• /newsubject — добавить предмет пошагово\n" +
		"• /subjects — список предметов с темами и экзаменами\n" +
		"• /addtopics &lt;предмет&gt; — дописать темы к предмету\n" +
		"• /setexam &lt;предмет&gt; &lt;2026-01-15&gt; — дата экзамена\n" +
		"• /studytime — настроить часы занятий в день\n" +
		"• /generate — построить план по всем предметам\n" +
		"• /today — темы на сегодня\n" +
		"• /plan — весь план, темы можно закрывать кнопками\n" +
		"• /done &lt;id&gt; — отметить тему выученной по номеру\n" +
		"• /reschedule — перенести пропущенные темы на свободные дни\n" +
		"• /dashboard — прогресс и прогноз\n" +
		"• /cancel — отменить текущий ввод\n" +
		"• файл .xlsx/.csv — импорт программы (предмет; тема; дата экзамена)"
	return b.sendText(msg.Chat.ID, text)
}

// --- subject management ---

func (b *Bot) startNewSubjectConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.setConversation(msg.From.ID, &conversationState{stage: stageSubjectName})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Добавляем предмет.\n<b>Шаг 1:</b> как он называется?", cancelKeyboard())
}

func (b *Bot) handleSubjects(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	subjects, err := b.subjectSvc.List(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить предметы: %s", escape(err.Error())))
	}
	if len(subjects) == 0 {
		return b.sendText(msg.Chat.ID, "Предметов пока нет. Добавь первый через /newsubject.")
	}

	var builder strings.Builder
	builder.WriteString("📚 <b>Твои предметы</b>\n\n")
	for _, subject := range subjects {
		builder.WriteString(fmt.Sprintf("<b>%s</b> — тем: %d", escape(subject.Name), len(subject.Topics)))
		if subject.Exam != nil {
			builder.WriteString(fmt.Sprintf(", экзамен %s", model.DateOnly(subject.Exam.ExamDate).Format(dateLayout)))
		} else {
			builder.WriteString(", экзамен не назначен")
		}
		builder.WriteByte('\n')
		for _, topic := range subject.Topics {
			builder.WriteString(fmt.Sprintf("   • %s\n", escape(topic.Name)))
		}
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleAddTopics(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		return b.sendText(msg.Chat.ID, "Укажи предмет: /addtopics Математика")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	subject, err := b.subjectSvc.FindByName(ctx, user, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, fmt.Sprintf("Предмет «%s» не найден. Список — в /subjects.", escape(name)))
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	b.setConversation(msg.From.ID, &conversationState{stage: stageAddTopics, subjectID: subject.ID})
	return b.sendWithReplyMarkup(msg.Chat.ID, fmt.Sprintf("✏️ Пришли темы для «%s» — по одной на строку.", escape(subject.Name)), cancelKeyboard())
}

func (b *Bot) handleSetExam(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return b.sendText(msg.Chat.ID, "Формат: /setexam Математика 2026-01-15")
	}

	rawDate := args[len(args)-1]
	name := strings.TrimSpace(strings.Join(args[:len(args)-1], " "))

	examDate, err := time.Parse(dateLayout, rawDate)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не могу распознать дату «%s». Используй формат <code>2026-01-15</code>.", escape(rawDate)))
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	subject, err := b.subjectSvc.FindByName(ctx, user, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, fmt.Sprintf("Предмет «%s» не найден. Список — в /subjects.", escape(name)))
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	if err := b.subjectSvc.SetExam(ctx, subject.ID, examDate); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить экзамен: %s", escape(err.Error())))
	}

	log.Printf("[info] exam set subject=%d user=%d date=%s", subject.ID, user.ID, rawDate)
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🎯 Экзамен по «%s» назначен на %s. Не забудь обновить план: /generate.", escape(subject.Name), rawDate))
}

// --- study time ---

func (b *Bot) startStudyTimeConversation(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	current := ""
	if studyTime, err := b.subjectSvc.StudyTime(ctx, user); err == nil {
		current = fmt.Sprintf("\nСейчас: %.1f ч/день, %d дн/нед.", studyTime.HoursPerDay, studyTime.DaysPerWeek)
	}

	b.setConversation(msg.From.ID, &conversationState{stage: stageStudyHours})
	return b.sendWithReplyMarkup(msg.Chat.ID, "⏱ Сколько часов в день занимаешься? Можно дробно, например <code>2.5</code>."+current, cancelKeyboard())
}

// --- conversations ---

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageSubjectName:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Название не может быть пустым. Как называется предмет?", cancelKeyboard())
		}
		state.subjectName = text
		state.stage = stageSubjectTopics
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ <b>Шаг 2:</b> пришли темы — по одной на строку (или «Пропустить»).", skipKeyboard())
	case stageSubjectTopics:
		if !isSkipInput(text) {
			state.topics = splitLines(text)
		}
		state.stage = stageSubjectExam
		return b.sendWithReplyMarkup(msg.Chat.ID, "🎯 <b>Шаг 3:</b> дата экзамена в формате <code>2026-01-15</code> (или «Пропустить»).", skipKeyboard())
	case stageSubjectExam:
		var examDate *time.Time
		if !isSkipInput(text) {
			parsed, err := time.Parse(dateLayout, text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Не могу распознать дату. Используй формат <code>2026-01-15</code> или «Пропустить».", skipKeyboard())
			}
			examDate = &parsed
		}
		err := b.finishSubjectCreation(ctx, msg.From, state, examDate, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	case stageAddTopics:
		topics := splitLines(text)
		if len(topics) == 0 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Пришли хотя бы одну тему, по одной на строку.", cancelKeyboard())
		}
		added, err := b.subjectSvc.AddTopics(ctx, state.subjectID, topics)
		b.clearConversation(msg.From.ID)
		if err != nil {
			return b.sendTextWithRemove(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить темы: %s", escape(err.Error())))
		}
		return b.sendTextWithRemove(msg.Chat.ID, fmt.Sprintf("✅ Добавлено тем: %d. Обнови план: /generate.", added))
	case stageStudyHours:
		hours, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
		if err != nil || hours < 0 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Часы должны быть неотрицательным числом, например <code>2.5</code>.", cancelKeyboard())
		}
		state.hoursPerDay = hours
		state.stage = stageStudyDays
		return b.sendWithReplyMarkup(msg.Chat.ID, "📆 Сколько дней в неделю занимаешься? (1–7)", cancelKeyboard())
	case stageStudyDays:
		days, err := strconv.Atoi(text)
		if err != nil || days < 1 || days > 7 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Дни должны быть числом от 1 до 7.", cancelKeyboard())
		}
		err = b.finishStudyTime(ctx, msg.From, state.hoursPerDay, days, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Диалог сброшен. Попробуй ещё раз.")
	}
}

func (b *Bot) finishSubjectCreation(ctx context.Context, from *tgbotapi.User, state *conversationState, examDate *time.Time, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	subject, err := b.subjectSvc.CreateWithTopics(ctx, user, state.subjectName, state.topics, examDate)
	if err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Не удалось сохранить предмет: %s", escape(err.Error())))
	}

	log.Printf("[info] subject created id=%d user=%d topics=%d", subject.ID, user.ID, len(state.topics))

	var summary strings.Builder
	summary.WriteString("✅ <b>Предмет сохранён</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>Название:</b> %s\n", escape(subject.Name)))
	summary.WriteString(fmt.Sprintf("• <b>Тем:</b> %d\n", len(state.topics)))
	if examDate != nil {
		summary.WriteString(fmt.Sprintf("• <b>Экзамен:</b> %s\n", examDate.Format(dateLayout)))
	} else {
		summary.WriteString("• <b>Экзамен:</b> не назначен — без него темы не попадут в план\n")
	}
	summary.WriteString("\nПостроить план: /generate")

	return b.sendTextWithRemove(chatID, strings.TrimSpace(summary.String()))
}

func (b *Bot) finishStudyTime(ctx context.Context, from *tgbotapi.User, hours float64, days int, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	studyTime, err := b.subjectSvc.SetStudyTime(ctx, user, hours, days)
	if err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Не удалось сохранить настройки: %s", escape(err.Error())))
	}

	capacity := studyTime.MaxTasksPerDay()
	text := fmt.Sprintf("✅ Настройки сохранены: %.1f ч/день, %d дн/нед.\nВ план пойдёт до <b>%d</b> тем в день.", studyTime.HoursPerDay, studyTime.DaysPerWeek, capacity)
	if capacity < 1 {
		text += "\n⚠️ Этого мало даже для одной темы в день — /generate откажется строить план."
	}
	return b.sendTextWithRemove(chatID, text)
}

// --- planning ---

func (b *Bot) handleGenerate(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	created, err := b.plannerSvc.GeneratePlan(ctx, user, time.Now())
	switch {
	case errors.Is(err, service.ErrStudyTimeNotSet):
		return b.sendText(msg.Chat.ID, "Сначала задай время занятий через /studytime — без него я не знаю твою дневную норму.")
	case errors.Is(err, service.ErrStudyTimeTooLow):
		return b.sendText(msg.Chat.ID, "Заявленного времени не хватает даже на одну тему в день. Подними часы через /studytime.")
	case err != nil:
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось построить план: %s", escape(err.Error())))
	}

	log.Printf("[info] plan generated user=%d created=%d", user.ID, created)
	if created == 0 {
		return b.sendText(msg.Chat.ID, "Новых тем в план не добавилось: всё уже распределено или нет предметов с экзаменом и темами.")
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🧠 План готов! Добавлено тем: <b>%d</b>. Смотри /today и /plan.", created))
}

func (b *Bot) handleReschedule(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	moved, err := b.plannerSvc.RescheduleMissedForUser(ctx, user.ID, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось перенести темы: %s", escape(err.Error())))
	}

	if moved == 0 {
		return b.sendText(msg.Chat.ID, "Пропущенных тем нет 🎉")
	}
	log.Printf("[info] rescheduled user=%d moved=%d", user.ID, moved)
	return b.sendText(msg.Chat.ID, fmt.Sprintf("♻️ Перенесено тем: <b>%d</b>. Новые даты — в /plan.", moved))
}

func (b *Bot) handleToday(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.agendaSvc.DailyAgenda(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось собрать план на сегодня: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handlePlan(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendPlan(ctx, msg.Chat.ID, user)
}

func (b *Bot) sendPlan(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.taskSvc.ListPending(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось получить план: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "План пуст. Добавь предметы и набери /generate.")
	}

	idx, err := b.nameIndex(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	today := model.DateOnly(time.Now())
	var builder strings.Builder
	builder.WriteString("🗓 <b>План подготовки</b>\nНажми кнопку, когда тема выучена.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	var currentDay string
	for _, task := range tasks {
		day := model.DateOnly(task.TaskDate).Format(dateLayout)
		if day != currentDay {
			currentDay = day
			marker := ""
			if model.DateOnly(task.TaskDate).Before(today) {
				marker = " ⚠️ пропущено"
			}
			builder.WriteString(fmt.Sprintf("<b>%s</b>%s\n", day, marker))
		}
		topic := idx.topicNames[task.TopicID]
		subject := idx.subjectNames[task.SubjectID]
		builder.WriteString(fmt.Sprintf("   • <b>#%d</b> %s <i>(%s)</i>\n", task.ID, escape(topic), escape(subject)))
		buttons = append(buttons, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(topic, 24)),
				fmt.Sprintf("%s%d", cbCompletePrefix, task.ID),
			),
		})
	}

	reply := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	reply.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(reply)
	return err
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Укажи номер темы: /done 12")
	}

	taskID64, err := strconv.ParseUint(args, 10, 64)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Номер темы должен быть числом.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	return b.completeTask(ctx, msg.Chat.ID, user, uint(taskID64))
}

func (b *Bot) handleDashboard(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	dash, err := b.dashboardSvc.Build(ctx, user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось собрать статистику: %s", escape(err.Error())))
	}

	return b.sendText(msg.Chat.ID, formatDashboard(dash))
}

// --- completion flow ---

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}

	if !strings.HasPrefix(cb.Data, cbCompletePrefix) {
		return nil
	}

	raw := strings.TrimPrefix(cb.Data, cbCompletePrefix)
	taskID64, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}

	return b.askCompleteConfirmation(ctx, cb.Message.Chat.ID, cb.From, uint(taskID64))
}

func (b *Bot) askCompleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(chatID, "Тема не найдена.")
		}
		return err
	}
	if task.IsCompleted {
		return b.sendText(chatID, "Эта тема уже отмечена выученной.")
	}

	idx, err := b.nameIndex(ctx, user)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Отметить тему «%s» (#%d) выученной?", escape(idx.topicNames[task.TopicID]), task.ID)
	b.setConfirmation(from.ID, task.ID)
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, taskID uint) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		user, err := b.ensureUser(ctx, msg.From)
		if err != nil {
			return err
		}
		return b.completeTask(ctx, msg.Chat.ID, user, taskID)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Подтверди или отмени отметку темы.", confirmKeyboard())
	}
}

func (b *Bot) completeTask(ctx context.Context, chatID int64, user *model.User, taskID uint) error {
	task, err := b.taskSvc.CompleteTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendTextWithRemove(chatID, "Тема не найдена или уже удалена.")
		}
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}

	idx, err := b.nameIndex(ctx, user)
	if err != nil {
		return err
	}

	log.Printf("[info] task completed id=%d user=%d", task.ID, user.ID)
	return b.sendTextWithRemove(chatID, fmt.Sprintf("✅ Тема «%s» выучена. Так держать!", escape(idx.topicNames[task.TopicID])))
}

// --- syllabus import ---

func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(msg.Document.FileName))
	if ext != ".xlsx" && ext != ".csv" {
		return b.sendText(msg.Chat.ID, "Я умею импортировать только .xlsx и .csv: колонки «предмет; тема; дата экзамена».")
	}

	url, err := b.api.GetFileDirectURL(msg.Document.FileID)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить файл: %s", escape(err.Error())))
	}

	path, err := downloadToTemp(url, ext)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось скачать файл: %s", escape(err.Error())))
	}
	defer os.Remove(path)

	result, err := b.importer.ImportFile(ctx, user.ID, path)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Импорт не удался: %s", escape(err.Error())))
	}

	log.Printf("[info] import user=%d rows=%d subjects=%d topics=%d errors=%d",
		user.ID, result.TotalProcessed, result.SubjectsCreated, result.TopicsCreated, len(result.Errors))

	var builder strings.Builder
	builder.WriteString("📥 <b>Импорт завершён</b>\n")
	builder.WriteString(fmt.Sprintf("• Строк обработано: %d\n", result.TotalProcessed))
	builder.WriteString(fmt.Sprintf("• Новых предметов: %d\n", result.SubjectsCreated))
	builder.WriteString(fmt.Sprintf("• Новых тем: %d\n", result.TopicsCreated))
	if result.Skipped > 0 {
		builder.WriteString(fmt.Sprintf("• Пропущено дублей: %d\n", result.Skipped))
	}
	if len(result.Errors) > 0 {
		builder.WriteString(fmt.Sprintf("• Ошибок: %d\n", len(result.Errors)))
		for i, importErr := range result.Errors {
			if i >= 5 {
				builder.WriteString("   …\n")
				break
			}
			builder.WriteString(fmt.Sprintf("   – %s\n", escape(importErr)))
		}
	}
	builder.WriteString("\nПостроить план: /generate")

	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func downloadToTemp(url, ext string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "syllabus-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// --- reports ---

// SendDailyAgendas sends the daily agenda to every known user.
func (b *Bot) SendDailyAgendas(ctx context.Context) error {
	users, err := b.userRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text, err := b.agendaSvc.DailyAgenda(ctx, user, now)
		if err != nil {
			log.Printf("build agenda for user %d: %v", user.TelegramID, err)
			continue
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			log.Printf("send agenda to %d: %v", user.TelegramID, err)
		}
	}
	return nil
}

// --- plumbing ---

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewSubject):
		return true, b.startNewSubjectConversation(ctx, msg)
	case strings.ToLower(menuLabelSubjects):
		return true, b.handleSubjects(ctx, msg)
	case strings.ToLower(menuLabelPlan):
		return true, b.handlePlan(ctx, msg)
	case strings.ToLower(menuLabelToday):
		return true, b.handleToday(ctx, msg)
	case strings.ToLower(menuLabelDashboard):
		return true, b.handleDashboard(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

type nameIndex struct {
	topicNames   map[uint]string
	subjectNames map[uint]string
}

func (b *Bot) nameIndex(ctx context.Context, user *model.User) (nameIndex, error) {
	subjects, err := b.subjectSvc.List(ctx, user)
	if err != nil {
		return nameIndex{}, err
	}
	idx := nameIndex{
		topicNames:   make(map[uint]string),
		subjectNames: make(map[uint]string),
	}
	for _, subject := range subjects {
		idx.subjectNames[subject.ID] = subject.Name
		for _, topic := range subject.Topics {
			idx.topicNames[topic.ID] = topic.Name
		}
	}
	return idx, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Главное меню")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (uint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	taskID, ok := b.confirmations[userID]
	return taskID, ok
}

func (b *Bot) setConfirmation(userID int64, taskID uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = taskID
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

// --- keyboards ---

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelToday),
			tgbotapi.NewKeyboardButton(menuLabelPlan),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelSubjects),
			tgbotapi.NewKeyboardButton(menuLabelNewSubject),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelDashboard),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// --- formatting ---

func formatDashboard(dash *service.Dashboard) string {
	if dash.TotalTasks == 0 {
		return "📊 Статистики пока нет: план пуст. Добавь предметы и набери /generate."
	}

	var builder strings.Builder
	builder.WriteString("📊 <b>Прогресс подготовки</b>\n\n")
	builder.WriteString(fmt.Sprintf("Всего тем в плане: <b>%d</b>\n", dash.TotalTasks))
	builder.WriteString(fmt.Sprintf("Выучено: <b>%d</b> (%.2f%%)\n", dash.CompletedTasks, dash.CompletionPercentage))
	builder.WriteString(fmt.Sprintf("Осталось: <b>%d</b>\n", dash.PendingTasks))
	if dash.MissedTasks > 0 {
		builder.WriteString(fmt.Sprintf("⚠️ Пропущено: <b>%d</b> — /reschedule перенесёт их\n", dash.MissedTasks))
	}

	if len(dash.Subjects) > 0 {
		builder.WriteString("\n<b>По предметам</b>\n")
		for _, row := range dash.Subjects {
			builder.WriteString(fmt.Sprintf("• %s — %d/%d (%.0f%%)", escape(row.Subject), row.Completed, row.Total, row.Percentage))
			if row.ExamDate != nil {
				builder.WriteString(fmt.Sprintf(", экзамен %s %s", row.ExamDate.Format(dateLayout), riskLabel(row.Risk)))
			}
			builder.WriteByte('\n')
		}
	}

	if dash.AvgTasksPerDay > 0 {
		builder.WriteString(fmt.Sprintf("\nТемп: ~%.1f тем/день", dash.AvgTasksPerDay))
		if dash.PredictedFinish != nil {
			builder.WriteString(fmt.Sprintf("\nПри таком темпе закончишь примерно %s", dash.PredictedFinish.Format(dateLayout)))
		}
	}

	return strings.TrimSpace(builder.String())
}

func riskLabel(risk service.ExamRisk) string {
	switch risk {
	case service.RiskOnTrack:
		return "🟢"
	case service.RiskBehind:
		return "🔴 не успеваешь"
	case service.RiskExamPassed:
		return "⏰ дата прошла"
	default:
		return ""
	}
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "пропустить" || value == "skip"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "подтвердить" || value == "да"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "отмена"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "отменить ввод" || value == "отмена"
}

func escape(s string) string {
	return html.EscapeString(s)
}
