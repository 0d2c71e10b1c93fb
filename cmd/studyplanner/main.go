package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"study-planner/internal/bot"
	"study-planner/internal/config"
	"study-planner/internal/excel"
	"study-planner/internal/repository"
	"study-planner/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	studyTimeRepo := repository.NewStudyTimeRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	subjectSvc := service.NewSubjectService(subjectRepo, studyTimeRepo)
	taskSvc := service.NewTaskService(taskRepo)
	plannerSvc := service.NewPlannerService(subjectRepo, studyTimeRepo, taskRepo)
	dashboardSvc := service.NewDashboardService(subjectRepo, studyTimeRepo, taskRepo)
	agendaSvc := service.NewAgendaService(subjectRepo, taskRepo)
	importer := excel.NewImporter(subjectRepo)

	tgBot, err := bot.New(cfg.TelegramToken, userRepo, subjectSvc, taskSvc, plannerSvc, dashboardSvc, agendaSvc, importer, &cfg)
	if err != nil {
		log.Fatalf("create bot: %v", err)
	}

	scheduler := service.NewSchedulerService(time.Local)

	if _, err := scheduler.ScheduleDaily(cfg.RescheduleTime, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		moved, err := plannerSvc.RescheduleMissed(jobCtx, time.Now())
		if err != nil {
			log.Printf("nightly reschedule: %v", err)
			return
		}
		if moved > 0 {
			log.Printf("[info] nightly reschedule moved %d tasks", moved)
		}
	}); err != nil {
		log.Fatalf("schedule nightly reschedule: %v", err)
	}

	if _, err := scheduler.ScheduleInterval(cfg.ReportInterval, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := tgBot.SendDailyAgendas(jobCtx); err != nil {
			log.Printf("send agendas: %v", err)
		}
	}); err != nil {
		log.Fatalf("schedule agenda reports: %v", err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	log.Println("[info] study planner started")

	if err := tgBot.Start(ctx); err != nil {
		log.Fatalf("bot stopped: %v", err)
	}

	log.Println("[info] study planner stopped")
}
