package auth

const (
	RoleAdmin    = "admin"
	RoleHR       = "hr"
	RoleApprover = "approver"
)

const (
	PermDocumentsManage   = "documents.manage"
	PermDocumentsSend     = "documents.send"
	PermLevelsManage      = "approval_levels.manage"
	PermAuthoritiesManage = "level0_authorities.manage"
)

var rolePermissions = map[string][]string{
	RoleAdmin: {PermDocumentsManage, PermDocumentsSend, PermLevelsManage, PermAuthoritiesManage},
	RoleHR:    {PermDocumentsManage, PermDocumentsSend},
}
