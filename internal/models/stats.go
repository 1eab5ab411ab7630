package models

import "time"

type Summary struct {
	TotalPatients         int      `json:"total_patients"`
	ActiveQueue           int      `json:"active_queue"`
	PatientsServedToday   int      `json:"patients_served_today"`
	AverageWaitMinutes    *float64 `json:"average_wait_minutes"`
	AverageServiceMinutes *float64 `json:"average_service_minutes"`
}

type StatusCounts map[Status]int

type DailyStats struct {
	Date                  string   `json:"date"`
	PatientsRegistered    int      `json:"patients_registered"`
	TriagesPerformed      int      `json:"triages_performed"`
	PatientsServed        int      `json:"patients_served"`
	PatientsInQueue       int      `json:"patients_in_queue"`
	AverageWaitMinutes    *float64 `json:"average_wait_minutes"`
	AverageServiceMinutes *float64 `json:"average_service_minutes"`
}

type ServiceStats struct {
	ServiceID          string   `json:"service_id"`
	ServiceName        string   `json:"service_name"`
	TotalEntries       int      `json:"total_entries"`
	ActiveEntries      int      `json:"active_entries"`
	FinishedEntries    int      `json:"finished_entries"`
	AverageWaitMinutes *float64 `json:"average_wait_minutes"`
}

type AdminDashboard struct {
	Summary        Summary        `json:"summary"`
	QueueStatus    StatusCounts   `json:"queue_status"`
	Services       []ServiceStats `json:"service_statistics"`
	RecentPatients []Patient      `json:"recent_patients"`
}

type TriagistDashboard struct {
	Screening     []ActiveEntry `json:"queue_for_screening"`
	RecentTriages []Triage      `json:"recent_triages"`
	TotalTriages  int           `json:"total_triages"`
}

type DoctorDashboard struct {
	CurrentQueue   []ActiveEntry `json:"current_queue"`
	RecentPatients []Patient     `json:"recent_patients"`
	Counts         StatusCounts  `json:"summary"`
}

type ExportRow struct {
	EntryID     string
	PatientName string
	ServiceName string
	Priority    int
	Status      Status
	ArrivedAt   time.Time
	CalledAt    *time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}
