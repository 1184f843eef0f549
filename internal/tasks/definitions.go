package tasks

import (
	"gorm.io/gorm"
)

// DefineTasks registers all available tasks against a registry
func DefineTasks(registry *Registry, db *gorm.DB, issuer LicenseIssuer, mailer Mailer) {
	issueLicense := &IssueLicenseTaskDef{db: db, issuer: issuer}
	registry.Register(issueLicense.TaskID(), issueLicense.HandleExecution)

	sendLicenseEmail := &SendLicenseEmailTaskDef{mailer: mailer}
	registry.Register(sendLicenseEmail.TaskID(), sendLicenseEmail.HandleExecution)
}
