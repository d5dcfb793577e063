package authz

const (
	RoleAnonymous   = "anonymous"
	RoleBorrower    = "borrower"
	RoleLoanOfficer = "loan_officer"
	RoleUnderwriter = "underwriter"
	RoleAdmin       = "admin"
	RoleSuperAdmin  = "super_admin"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

const DomainGlobal = "global"

const (
	ObjectAuthSession       = "auth.session"
	ObjectLoanProducts      = "loan.products"
	ObjectLoanApplications  = "loan.applications"
	ObjectLoanNotifications = "loan.notifications"
	ObjectAdminApplications = "admin.applications"
	ObjectAdminDashboard    = "admin.dashboard"
	ObjectAdminUsers        = "admin.users"
	ObjectRESTPrefix        = "rest."
	ObjectRPCPrefix         = "rpc."
)

func ObjectForTable(table string) string { return ObjectRESTPrefix + table }

func ObjectForFunction(fn string) string { return ObjectRPCPrefix + fn }
