package auth

// Permission keys. Each is "<resource>.<action>".
const (
	PermUsersCreate = "users.create"
	PermUsersRead   = "users.read"
	PermUsersUpdate = "users.update"
	PermUsersDelete = "users.delete"
	PermUsersList   = "users.list"

	PermRolesCreate       = "roles.create"
	PermRolesRead         = "roles.read"
	PermRolesUpdate       = "roles.update"
	PermRolesDelete       = "roles.delete"
	PermRolesList         = "roles.list"
	PermPermissionsManage = "permissions.manage"

	PermOfficesCreate = "offices.create"
	PermOfficesRead   = "offices.read"
	PermOfficesUpdate = "offices.update"
	PermOfficesDelete = "offices.delete"
	PermOfficesList   = "offices.list"

	PermBranchesCreate = "branches.create"
	PermBranchesRead   = "branches.read"
	PermBranchesUpdate = "branches.update"
	PermBranchesDelete = "branches.delete"
	PermBranchesList   = "branches.list"

	PermTrucksCreate = "trucks.create"
	PermTrucksRead   = "trucks.read"
	PermTrucksUpdate = "trucks.update"
	PermTrucksDelete = "trucks.delete"
	PermTrucksList   = "trucks.list"
	PermTrucksAssign = "trucks.assign"

	PermDeliveriesCreate   = "deliveries.create"
	PermDeliveriesRead     = "deliveries.read"
	PermDeliveriesUpdate   = "deliveries.update"
	PermDeliveriesDelete   = "deliveries.delete"
	PermDeliveriesList     = "deliveries.list"
	PermDeliveriesCancel   = "deliveries.cancel"
	PermDeliveriesComplete = "deliveries.complete"

	PermDeliveryPlacesCreate = "delivery_places.create"
	PermDeliveryPlacesRead   = "delivery_places.read"
	PermDeliveryPlacesUpdate = "delivery_places.update"
	PermDeliveryPlacesDelete = "delivery_places.delete"
	PermDeliveryPlacesList   = "delivery_places.list"

	PermReportsView   = "reports.view"
	PermReportsExport = "reports.export"
	PermAnalyticsView = "analytics.view"

	PermLogsView   = "logs.view"
	PermLogsExport = "logs.export"
)

// catalog is every permission a role may hold, in display order.
var catalog = []string{
	PermUsersCreate, PermUsersRead, PermUsersUpdate, PermUsersDelete, PermUsersList,
	PermRolesCreate, PermRolesRead, PermRolesUpdate, PermRolesDelete, PermRolesList,
	PermPermissionsManage,
	PermOfficesCreate, PermOfficesRead, PermOfficesUpdate, PermOfficesDelete, PermOfficesList,
	PermBranchesCreate, PermBranchesRead, PermBranchesUpdate, PermBranchesDelete, PermBranchesList,
	PermTrucksCreate, PermTrucksRead, PermTrucksUpdate, PermTrucksDelete, PermTrucksList, PermTrucksAssign,
	PermDeliveriesCreate, PermDeliveriesRead, PermDeliveriesUpdate, PermDeliveriesDelete,
	PermDeliveriesList, PermDeliveriesCancel, PermDeliveriesComplete,
	PermDeliveryPlacesCreate, PermDeliveryPlacesRead, PermDeliveryPlacesUpdate,
	PermDeliveryPlacesDelete, PermDeliveryPlacesList,
	PermReportsView, PermReportsExport, PermAnalyticsView,
	PermLogsView, PermLogsExport,
}

var catalogSet = NewPermissionSet(catalog...)

// IsValidPermission reports whether key is in the permission catalog.
func IsValidPermission(key string) bool {
	return catalogSet.Has(key)
}

// AllPermissions returns a copy of the catalog.
func AllPermissions() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// InvalidPermissions returns the keys that are not in the catalog, in input order.
func InvalidPermissions(keys []string) []string {
	return catalogSet.Missing(keys...)
}

// Permission groups used when seeding the built-in roles.
var (
	// GroupAdmin grants the whole catalog.
	GroupAdmin = AllPermissions()

	// GroupDirector reads everything and sees reports, analytics and logs.
	GroupDirector = []string{
		PermUsersRead, PermUsersList,
		PermRolesRead, PermRolesList,
		PermOfficesRead, PermOfficesList,
		PermBranchesRead, PermBranchesList,
		PermTrucksRead, PermTrucksList,
		PermDeliveriesRead, PermDeliveriesList,
		PermDeliveryPlacesRead, PermDeliveryPlacesList,
		PermReportsView, PermReportsExport, PermAnalyticsView,
		PermLogsView,
	}

	// GroupManager runs day-to-day operations for an office or branch.
	GroupManager = []string{
		PermUsersRead, PermUsersList,
		PermOfficesRead, PermBranchesRead, PermBranchesList,
		PermTrucksCreate, PermTrucksRead, PermTrucksUpdate, PermTrucksList, PermTrucksAssign,
		PermDeliveriesCreate, PermDeliveriesRead, PermDeliveriesUpdate, PermDeliveriesDelete,
		PermDeliveriesList, PermDeliveriesCancel, PermDeliveriesComplete,
		PermDeliveryPlacesCreate, PermDeliveryPlacesRead, PermDeliveryPlacesUpdate, PermDeliveryPlacesList,
		PermReportsView,
	}

	// GroupEmployee covers basic delivery work.
	GroupEmployee = []string{
		PermTrucksRead, PermTrucksList,
		PermDeliveriesCreate, PermDeliveriesRead, PermDeliveriesUpdate, PermDeliveriesList,
		PermDeliveryPlacesRead, PermDeliveryPlacesList,
	}

	// GroupDriver sees and completes assigned deliveries.
	GroupDriver = []string{
		PermDeliveriesRead, PermDeliveriesUpdate, PermDeliveriesList, PermDeliveriesComplete,
		PermDeliveryPlacesRead, PermTrucksRead,
	}
)
